package imap

import "time"

// ConnState is one position in the per-account connection state machine:
// disconnected → connecting → connected; connected → error → reconnecting
// → connected|error.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the connection/sync status exposed to callers. LastError has
// already been sanitized and can be rendered directly.
type Status struct {
	State      ConnState
	LastError  string
	LastSyncAt time.Time
}

// Status returns the current status of an account
func (r *Registry) Status(accountID int64) Status {
	r.mu.RLock()
	s, ok := r.sessions[accountID]
	r.mu.RUnlock()
	if !ok {
		return Status{State: StateDisconnected}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:      s.state,
		LastError:  s.lastErr,
		LastSyncAt: s.lastSync,
	}
}
