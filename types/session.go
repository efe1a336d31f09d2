package types

import "time"

// Session is one live websockify proxy bridging a browser to a VM's VNC port.
type Session struct {
	ID        string    `json:"id"`
	VMName    string    `json:"vm_name"`
	LocalPort int       `json:"local_port"`
	VNCPort   int       `json:"vnc_port"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// SessionIndex is the persisted session table, used to reap proxies left
// behind by a previous server process.
type SessionIndex struct {
	Sessions map[string]*Session `json:"sessions"`
}

// Init implements storage.Initer.
func (idx *SessionIndex) Init() {
	if idx.Sessions == nil {
		idx.Sessions = make(map[string]*Session)
	}
}
