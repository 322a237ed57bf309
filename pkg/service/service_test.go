package service

import (
	"bytes"
	"context"
	"encoding/gob"
	"log"
	"os"
	"testing"
	"time"

	"github.com/tomasreyes/shardraft/pkg/raft"
	"github.com/tomasreyes/shardraft/pkg/transport"
)

// echoMachine is a minimal StateMachine that just accumulates every
// applied payload, for exercising Service without any real domain logic.
type echoMachine struct {
	applied [][]byte
}

func (m *echoMachine) Apply(requestID uint64, command []byte) ([]byte, error) {
	m.applied = append(m.applied, command)
	return command, nil
}

func (m *echoMachine) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.applied); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *echoMachine) Restore(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(&m.applied)
}

func newTestService(t *testing.T, maxRaftState int) (*Service[*echoMachine], *echoMachine) {
	t.Helper()
	dir := t.TempDir()
	net := transport.NewNetwork(0, 0, 0, 1)
	lt := transport.NewLocalTransport(net, "n1")

	cfg := raft.DefaultConfig("n1")
	cfg.DataDir = dir
	cfg.ElectionTimeout = 20 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond

	applyCh := make(chan raft.ApplyMsg, 16)
	logger := log.New(os.Stderr, "", 0)
	engine, err := raft.New(cfg, lt, applyCh, logger)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	lt.SetRaftHandler(engine)

	sm := &echoMachine{}
	svc := New[*echoMachine](engine, sm, applyCh, maxRaftState, logger)
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc, sm
}

func waitForLeader(t *testing.T, svc *Service[*echoMachine]) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.engine.IsLeader() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine never became leader")
}

func TestCallAppliesCommandAndReturnsOutput(t *testing.T) {
	svc, sm := newTestService(t, 0)
	waitForLeader(t, svc)

	out, err := svc.Call(context.Background(), 1, []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected output %q, got %q", "hello", out)
	}
	if len(sm.applied) != 1 || string(sm.applied[0]) != "hello" {
		t.Fatalf("expected state machine to have applied %q, got %+v", "hello", sm.applied)
	}
}

func TestCallWithDuplicateRequestIDIsNotReapplied(t *testing.T) {
	svc, sm := newTestService(t, 0)
	waitForLeader(t, svc)

	if _, err := svc.Call(context.Background(), 7, []byte("first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := svc.Call(context.Background(), 7, []byte("second"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "first" {
		t.Fatalf("expected cached output %q from dedup table, got %q", "first", out)
	}
	if len(sm.applied) != 1 {
		t.Fatalf("expected exactly one apply, got %d", len(sm.applied))
	}
}

func TestReadOnlyObservesCommittedState(t *testing.T) {
	svc, _ := newTestService(t, 0)
	waitForLeader(t, svc)

	if _, err := svc.Call(context.Background(), 1, []byte("a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	err := svc.ReadOnly(context.Background(), func(sm *echoMachine) {
		count = len(sm.applied)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 applied command visible to ReadOnly, got %d", count)
	}
}

func TestSnapshotTriggersOnceThresholdCrossed(t *testing.T) {
	svc, _ := newTestService(t, 1)
	waitForLeader(t, svc)

	for i := uint64(0); i < 5; i++ {
		if _, err := svc.Call(context.Background(), i+1, []byte("x")); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if svc.engine.LogSize() <= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected log to be compacted after crossing maxRaftState")
}
