package session

// Status is the coarse observable state of the controller. It exists purely
// for host observability; control decisions are driven by explicit state,
// never by this value.
type Status int

const (
	// StatusIdle means no session is open.
	StatusIdle Status = iota
	// StatusConnecting means a session open is in flight.
	StatusConnecting
	// StatusListening means the session is open and no assistant audio is
	// scheduled.
	StatusListening
	// StatusResponding means assistant audio is scheduled or playing.
	StatusResponding
	// StatusError means the session ended with a terminal error and requires
	// a fresh explicit start.
	StatusError
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusConnecting:
		return "CONNECTING"
	case StatusListening:
		return "LISTENING"
	case StatusResponding:
		return "RESPONDING"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
