package domain

type RoomName string

// Room is the metadata of a signaling room.
type Room struct {
	Name RoomName
}
