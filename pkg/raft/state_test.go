package raft

import "testing"

func TestNodeStateInitial(t *testing.T) {
	state := NewNodeState()

	if state.GetState() != Follower {
		t.Error("expected initial state to be Follower")
	}
	if state.GetCurrentTerm() != 0 {
		t.Error("expected initial term to be 0")
	}
	if state.GetVotedFor() != "" {
		t.Error("expected initial votedFor to be empty")
	}
	if state.IsLeader() {
		t.Error("expected a fresh node not to be leader")
	}
}

func TestNodeStateTransitions(t *testing.T) {
	state := NewNodeState()

	state.SetState(Candidate)
	if state.GetState() != Candidate {
		t.Error("expected state to be Candidate")
	}

	state.SetState(Leader)
	if state.GetState() != Leader {
		t.Error("expected state to be Leader")
	}
	if !state.IsLeader() {
		t.Error("expected IsLeader to be true once state is Leader")
	}
}

func TestNodeStateTermAndVote(t *testing.T) {
	state := NewNodeState()

	state.SetCurrentTerm(5)
	state.SetVotedFor("n2")
	if state.GetCurrentTerm() != 5 {
		t.Errorf("expected term 5, got %d", state.GetCurrentTerm())
	}
	if state.GetVotedFor() != "n2" {
		t.Errorf("expected votedFor n2, got %q", state.GetVotedFor())
	}
}

func TestNodeStateLeaderBookkeeping(t *testing.T) {
	state := NewNodeState()
	state.ResetLeaderState([]string{"n2", "n3"}, 7)

	if got := state.GetNextIndex("n2"); got != 8 {
		t.Errorf("expected nextIndex(n2) == 8, got %d", got)
	}
	if got := state.GetMatchIndex("n2"); got != 0 {
		t.Errorf("expected matchIndex(n2) == 0, got %d", got)
	}

	state.SetMatchIndex("n2", 6)
	if got := state.GetMatchIndex("n2"); got != 6 {
		t.Errorf("expected matchIndex(n2) == 6 after update, got %d", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Follower:  "Follower",
		Candidate: "Candidate",
		Leader:    "Leader",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
