package domain

// LanServer is one Minecraft world announced on a local network.
type LanServer struct {
	Motd string `json:"motd"`
	Port int    `json:"port"`
}
