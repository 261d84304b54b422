package session

import "fmt"

// State is where the session sits in its lifecycle.
type State int

const (
	// LoggedOut means there is no access token.
	LoggedOut State = iota
	// Active means an access token is held.
	Active
	// Refreshing means a renewal call is in flight.
	Refreshing
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Active:
		return "active"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "logged_out":
		*s = LoggedOut
	case "active":
		*s = Active
	case "refreshing":
		*s = Refreshing
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}
