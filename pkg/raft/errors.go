package raft

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout      = errors.New("operation timed out")
	ErrNodeStopped  = errors.New("node has been stopped")
	ErrStaleRequest = errors.New("request superseded by a newer one")
)

// NotLeaderError is returned by Submit/ReadIndex when this replica isn't
// (or is no longer) the leader. Hint carries the last known leader id, if
// any, so callers can jump straight to it on retry instead of round-robining.
type NotLeaderError struct {
	Hint string
}

func (e *NotLeaderError) Error() string {
	if e.Hint == "" {
		return "not the leader"
	}
	return fmt.Sprintf("not the leader, try %s", e.Hint)
}
