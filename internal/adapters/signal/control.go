package signal

import (
	"time"

	"github.com/gorilla/websocket"
)

func writeClose(conn *websocket.Conn, code int, text string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
}
