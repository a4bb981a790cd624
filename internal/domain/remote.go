package domain

import "time"

// RemoteFile describes a regular file on a remote FTP endpoint.
type RemoteFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"modifiedAt"`
	RemotePath string    `json:"path"`
	MediaType  string    `json:"type"`
}

// ClientState tracks the lifecycle of a remote transfer connection.
type ClientState string

const (
	ClientDisconnected ClientState = "disconnected"
	ClientConnecting   ClientState = "connecting"
	ClientConnected    ClientState = "connected"
	ClientFailed       ClientState = "failed"
	ClientClosed       ClientState = "closed"
)

var clientTransitions = map[ClientState][]ClientState{
	ClientDisconnected: {ClientConnecting, ClientClosed},
	ClientConnecting:   {ClientConnected, ClientFailed},
	ClientConnected:    {ClientClosed},
	ClientFailed:       {ClientClosed},
}

// CanTransitionClient reports whether a client may move from one state to
// another.
func CanTransitionClient(from, to ClientState) bool {
	for _, t := range clientTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
