package clerk

import (
	"context"
	"fmt"
	"testing"

	"github.com/tomasreyes/shardraft/pkg/transport"
)

type fakeSubmitter struct {
	responses map[string]*transport.CommandResponse
	errs      map[string]error
	calls     []string
}

func (f *fakeSubmitter) Submit(_ context.Context, target string, _ *transport.CommandRequest) (*transport.CommandResponse, error) {
	f.calls = append(f.calls, target)
	if err, ok := f.errs[target]; ok {
		return nil, err
	}
	return f.responses[target], nil
}

func TestCallSucceedsOnLeader(t *testing.T) {
	f := &fakeSubmitter{responses: map[string]*transport.CommandResponse{
		"s1": {ErrorCode: transport.ErrCodeOK, Payload: []byte("ok")},
	}}
	c := New(f, []string{"s1"})
	out, err := c.Call(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "ok" {
		t.Fatalf("expected %q, got %q", "ok", out)
	}
}

func TestCallRetriesOnNotLeaderThenJumpsToHint(t *testing.T) {
	f := &fakeSubmitter{responses: map[string]*transport.CommandResponse{
		"s1": {ErrorCode: transport.ErrCodeNotLeader, Hint: "s2"},
		"s2": {ErrorCode: transport.ErrCodeOK, Payload: []byte("done")},
	}}
	c := New(f, []string{"s1", "s2"})
	out, err := c.Call(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "done" {
		t.Fatalf("expected %q, got %q", "done", out)
	}
	if f.calls[len(f.calls)-1] != "s2" {
		t.Fatalf("expected the last call to target the hinted leader s2, got %v", f.calls)
	}
}

func TestCallReturnsWrongGroupImmediately(t *testing.T) {
	f := &fakeSubmitter{responses: map[string]*transport.CommandResponse{
		"s1": {ErrorCode: transport.ErrCodeWrongGroup},
	}}
	c := New(f, []string{"s1"})
	_, err := c.Call(context.Background(), []byte("payload"))
	if err != ErrWrongGroup {
		t.Fatalf("expected ErrWrongGroup, got %v", err)
	}
}

func TestCallAdvancesOnTransportError(t *testing.T) {
	f := &fakeSubmitter{
		responses: map[string]*transport.CommandResponse{
			"s2": {ErrorCode: transport.ErrCodeOK, Payload: []byte("up")},
		},
		errs: map[string]error{"s1": fmt.Errorf("connection refused")},
	}
	c := New(f, []string{"s1", "s2"})
	out, err := c.Call(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "up" {
		t.Fatalf("expected %q, got %q", "up", out)
	}
}

func TestSetServersResetsLeaderGuess(t *testing.T) {
	f := &fakeSubmitter{responses: map[string]*transport.CommandResponse{
		"new": {ErrorCode: transport.ErrCodeOK, Payload: []byte("ok")},
	}}
	c := New(f, []string{"old"})
	c.SetServers([]string{"new"})
	out, err := c.Call(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "ok" {
		t.Fatalf("expected %q, got %q", "ok", out)
	}
}
