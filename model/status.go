package model

import (
	"encoding/json"
	"fmt"
)

// State is the download state of a single remote file.
type State int

const (
	StatePending State = iota
	StateFetching
	StateFetched // downloaded, but the manifest carried no digest to check against
	StateVerified
	StateMismatched
	StateFailed
)

var stateNames = map[State]string{
	StatePending:    "pending",
	StateFetching:   "fetching",
	StateFetched:    "fetched",
	StateVerified:   "verified",
	StateMismatched: "mismatched",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState converts a persisted state name back to a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StatePending, fmt.Errorf("unknown state %q", name)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Retryable reports whether an entry in this state should be fetched again.
func (s State) Retryable() bool {
	return s == StateMismatched || s == StateFailed || s == StatePending || s == StateFetching
}
