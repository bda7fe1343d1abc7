package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

// ICEServer is the config form of a STUN/TURN server advertised to clients.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func (s ICEServer) validate() error {
	if len(s.URLs) == 0 {
		return errors.New("urls is empty")
	}
	for _, raw := range s.URLs {
		uri, err := stun.ParseURI(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("url %q: %w", raw, err)
		}
		if uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS {
			if strings.TrimSpace(s.Username) == "" || s.Credential == "" {
				return fmt.Errorf("url %q: turn servers need username and credential", raw)
			}
		}
	}
	return nil
}

// WebRTCICEServers converts the configured list to pion's representation,
// which is also the browser RTCIceServer JSON shape.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		urls := make([]string, 0, len(s.URLs))
		for _, u := range s.URLs {
			urls = append(urls, strings.TrimSpace(u))
		}
		server := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(s.Username)}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
