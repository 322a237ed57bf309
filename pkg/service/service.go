// Package service implements the generic ReplicatedService wrapper:
// it turns any application state machine into a linearizable, replicated
// one by driving it from a raft.Engine's apply stream, deduplicating
// retried client requests, and triggering snapshots once the underlying
// log grows past a configured threshold.
package service

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tomasreyes/shardraft/pkg/dedup"
	"github.com/tomasreyes/shardraft/pkg/raft"
)

// StateMachine is the contract an application (shardctrler.Machine,
// shardkv.Machine) implements to ride on top of the replication engine.
// Apply is not called again for a requestID whose earlier Apply returned
// no error while that id is still in the service layer's dedup table
// (the DedupCapacity most recent ids): those retries are filtered before
// they reach it.
type StateMachine interface {
	Apply(requestID uint64, command []byte) (output []byte, err error)
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// DedupCapacity is the fixed size of the request-id dedup table each
// Service keeps, per command bytes.
const DedupCapacity = 50

// CallTimeout bounds how long Call waits for a submitted command to
// commit and apply before giving up with raft.ErrTimeout.
const CallTimeout = 500 * time.Millisecond

// command is the wire envelope written to the replicated log: a request
// id (for dedup) wrapped around the application's own command bytes.
type command struct {
	RequestID uint64
	Payload   []byte
}

// snapshotEnvelope bundles the application snapshot with the dedup
// table's contents so a restore rebuilds both atomically.
type snapshotEnvelope struct {
	AppSnapshot []byte
	DedupOrder  []uint64
	DedupValues map[uint64][]byte
}

type waiter struct {
	term   uint64
	result chan callResult
}

type callResult struct {
	output []byte
	err    error
}

// Service drives sm from engine's apply stream.
type Service[S StateMachine] struct {
	engine *raft.Engine
	sm     S
	logger *log.Logger

	maxRaftState int // <=0 disables snapshotting

	applyCh chan raft.ApplyMsg

	mu      sync.Mutex
	dedup   *dedup.Table
	waiters map[uint64]*waiter // keyed by log index

	done chan struct{}
}

// New wraps sm with replication via engine. maxRaftState <= 0 disables
// snapshotting entirely.
func New[S StateMachine](engine *raft.Engine, sm S, applyCh chan raft.ApplyMsg, maxRaftState int, logger *log.Logger) *Service[S] {
	return &Service[S]{
		engine:       engine,
		sm:           sm,
		logger:       logger,
		maxRaftState: maxRaftState,
		applyCh:      applyCh,
		dedup:        dedup.New(DedupCapacity),
		waiters:      make(map[uint64]*waiter),
		done:         make(chan struct{}),
	}
}

// Start launches the engine and the goroutine draining its apply stream.
// Call after New, before any Call.
func (s *Service[S]) Start() {
	go s.applyLoop()
	s.engine.Start()
}

// Stop halts the engine and the apply loop.
func (s *Service[S]) Stop() {
	s.engine.Stop()
	close(s.done)
}

// Call submits command under requestID and blocks until it has been
// applied (or CallTimeout elapses, or this replica loses leadership
// before committing it). A retried call with a requestID already in the
// dedup table returns the cached output without resubmitting anything.
func (s *Service[S]) Call(ctx context.Context, requestID uint64, payload []byte) ([]byte, error) {
	s.mu.Lock()
	if out, ok := s.dedup.Lookup(requestID); ok {
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	wire, err := encodeCommand(command{RequestID: requestID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("service: encode command: %w", err)
	}

	index, term, err := s.engine.Submit(wire)
	if err != nil {
		return nil, err
	}

	ch := make(chan callResult, 1)
	s.mu.Lock()
	s.waiters[index] = &waiter{term: term, result: ch}
	s.mu.Unlock()

	deadline, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	select {
	case res := <-ch:
		return res.output, res.err
	case <-deadline.Done():
		s.mu.Lock()
		delete(s.waiters, index)
		s.mu.Unlock()
		return nil, raft.ErrTimeout
	case <-s.done:
		return nil, raft.ErrNodeStopped
	}
}

// ReadOnly runs a read against sm after confirming linearizability via a
// ReadIndex barrier. fn must not mutate sm.
func (s *Service[S]) ReadOnly(ctx context.Context, fn func(sm S)) error {
	deadline, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()
	if err := s.engine.ReadIndex(deadline); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.sm)
	return nil
}

func (s *Service[S]) applyLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.applyCh:
			if !ok {
				return
			}
			switch {
			case msg.SnapshotValid:
				s.handleSnapshot(msg)
			case msg.CommandValid:
				s.handleCommand(msg)
			}
		}
	}
}

func (s *Service[S]) handleCommand(msg raft.ApplyMsg) {
	if len(msg.Command) == 0 {
		// No-op leadership/read barrier: nothing to apply, but waiters
		// registered by ReadIndex are resolved inside the engine itself.
		return
	}

	var cmd command
	if err := decodeCommand(msg.Command, &cmd); err != nil {
		s.logger.Printf("service: failed to decode command at index %d: %v", msg.CommandIndex, err)
		return
	}

	s.mu.Lock()
	output, hit := s.dedup.Lookup(cmd.RequestID)
	var applyErr error
	if !hit {
		output, applyErr = s.sm.Apply(cmd.RequestID, cmd.Payload)
		if applyErr == nil {
			s.dedup.Record(cmd.RequestID, output)
		}
	}

	w, waiting := s.waiters[msg.CommandIndex]
	if waiting {
		delete(s.waiters, msg.CommandIndex)
	}
	s.mu.Unlock()

	if waiting {
		if w.term != msg.CommandTerm {
			w.result <- callResult{err: fmt.Errorf("service: %w", raft.ErrStaleRequest)}
		} else {
			w.result <- callResult{output: output, err: applyErr}
		}
	}

	s.maybeSnapshot(msg.CommandIndex)
}

func (s *Service[S]) handleSnapshot(msg raft.ApplyMsg) {
	if !s.engine.CondInstallSnapshot(msg.SnapshotTerm, msg.SnapshotIndex, msg.Snapshot) {
		return
	}

	var env snapshotEnvelope
	if err := decodeCommand(msg.Snapshot, &env); err != nil {
		s.logger.Printf("service: failed to decode snapshot: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sm.Restore(env.AppSnapshot); err != nil {
		s.logger.Printf("service: failed to restore state machine: %v", err)
		return
	}
	s.dedup.Restore(env.DedupOrder, env.DedupValues)
}

func (s *Service[S]) maybeSnapshot(index uint64) {
	if s.maxRaftState <= 0 || s.engine.LogSize() <= s.maxRaftState {
		return
	}

	s.mu.Lock()
	appSnap, err := s.sm.Snapshot()
	if err != nil {
		s.mu.Unlock()
		s.logger.Printf("service: state machine snapshot failed: %v", err)
		return
	}
	order, values := s.dedup.Snapshot()
	s.mu.Unlock()

	wire, err := encodeCommand(snapshotEnvelope{AppSnapshot: appSnap, DedupOrder: order, DedupValues: values})
	if err != nil {
		s.logger.Printf("service: failed to encode snapshot envelope: %v", err)
		return
	}

	if err := s.engine.Snapshot(index, wire); err != nil && err != raft.ErrStaleRequest {
		s.logger.Printf("service: snapshot at index %d failed: %v", index, err)
	}
}

func encodeCommand(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
