package domain

import (
	"strings"
	"sync"
)

// Session holds the local user's identity. The user id is assigned once and
// never changes for the lifetime of the Session.
type Session struct {
	mu     sync.RWMutex
	userID string
}

// SetUserID records the identity if none is set yet and reports whether this
// call was the one that set it.
func (s *Session) SetUserID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != "" {
		return false
	}
	s.userID = id
	return true
}

func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

type ConnectionState string

const (
	ConnectionDisconnected  ConnectionState = "disconnected"
	ConnectionConnecting    ConnectionState = "connecting"
	ConnectionConnectedPush ConnectionState = "connected_push"
	ConnectionConnectedPoll ConnectionState = "connected_poll"
)
