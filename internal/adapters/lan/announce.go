// Package lan listens for and sends Minecraft "Open to LAN" announcements.
//
// A game advertising a LAN world sends a UDP datagram to 224.0.2.60:4445
// every 1.5 seconds:
//
//	[MOTD]<world name>[/MOTD][AD]<port>[/AD]
package lan

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/lanlink/internal/domain"
)

const DefaultGroup = "224.0.2.60:4445"

var ErrMalformed = errors.New("malformed lan announcement")

var (
	motdOpen  = []byte("[MOTD]")
	motdClose = []byte("[/MOTD]")
	adOpen    = []byte("[AD]")
	adClose   = []byte("[/AD]")
)

func FormatAnnouncement(motd string, port int) []byte {
	return []byte(fmt.Sprintf("[MOTD]%s[/MOTD][AD]%d[/AD]", motd, port))
}

func ParseAnnouncement(b []byte) (domain.LanServer, error) {
	motd, rest, err := between(b, motdOpen, motdClose)
	if err != nil {
		return domain.LanServer{}, err
	}
	ad, _, err := between(rest, adOpen, adClose)
	if err != nil {
		return domain.LanServer{}, err
	}
	port, err := strconv.Atoi(string(bytes.TrimSpace(ad)))
	if err != nil || port <= 0 || port > 65535 {
		return domain.LanServer{}, fmt.Errorf("%w: port %q", ErrMalformed, ad)
	}
	return domain.LanServer{Motd: string(motd), Port: port}, nil
}

// between returns the bytes enclosed by open/close and what follows close.
func between(b, open, close []byte) (inner, rest []byte, err error) {
	i := bytes.Index(b, open)
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: missing %s", ErrMalformed, open)
	}
	b = b[i+len(open):]
	j := bytes.Index(b, close)
	if j < 0 {
		return nil, nil, fmt.Errorf("%w: missing %s", ErrMalformed, close)
	}
	return b[:j], b[j+len(close):], nil
}
