package raft

import (
	"context"
	"time"
)

// Config holds the replication engine configuration for one replica.
type Config struct {
	NodeID            string
	Peers             map[string]string // nodeId -> address, excludes self
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
	DataDir           string
	RandomSeed        int64
}

// DefaultConfig returns a configuration with the standard Raft
// election/heartbeat timings: randomized election timeout in
// [150,300)ms, heartbeats roughly every 100ms.
func DefaultConfig(nodeID string) *Config {
	return &Config{
		NodeID:            nodeID,
		Peers:             make(map[string]string),
		ElectionTimeout:   150 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
		DataDir:           "./data/" + nodeID,
		RandomSeed:        time.Now().UnixNano(),
	}
}

// ApplyResult describes the outcome for one log index: applied, or known
// to be lost. The engine does not produce it: Submit returns without
// waiting for commit and ReadIndex reports its outcome as an error.
type ApplyResult struct {
	Index uint64
	Term  uint64
	Error error
}

// ApplyMsg is what the engine hands to the consumer of the apply stream.
// Exactly one of CommandValid/SnapshotValid is set. Commands are
// delivered strictly in index order with no gaps (I5); a zero-length
// Command is an internal no-op barrier and carries no application
// payload, but it is still delivered so the index stream stays
// contiguous.
type ApplyMsg struct {
	CommandValid bool
	CommandIndex uint64
	CommandTerm  uint64
	Command      []byte

	SnapshotValid bool
	SnapshotIndex uint64
	SnapshotTerm  uint64
	Snapshot      []byte
}

// Transport is the RPC surface the engine needs from its peers. A
// concrete implementation (pkg/transport.GRPCTransport, or a test-only
// in-memory fake) is supplied by the caller; the engine never dials a
// connection itself.
type Transport interface {
	RequestVote(ctx context.Context, target string, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, target string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, target string, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
}

// RequestVoteRequest represents a RequestVote RPC request
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  string
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse represents a RequestVote RPC response
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesRequest represents an AppendEntries RPC request
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse represents an AppendEntries RPC response, with
// the (conflictTerm, conflictIndex) hint used for accelerated
// backtracking on a rejected append.
type AppendEntriesResponse struct {
	Term          uint64
	Success       bool
	MatchIndex    uint64
	ConflictIndex uint64
	ConflictTerm  uint64
}

// LogEntry is the wire representation of one log entry.
type LogEntry struct {
	Term    uint64
	Index   uint64
	Command []byte
	Type    EntryType
}

// EntryType distinguishes a normal client command from an internal
// no-op barrier. There is no config-change entry type: replica group
// peer sets are fixed at construction.
type EntryType int

const (
	EntryNormal EntryType = iota
	EntryNoop
)

// InstallSnapshotRequest represents an InstallSnapshot RPC request.
type InstallSnapshotRequest struct {
	Term              uint64
	LeaderID          string
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	Data              []byte
}

// InstallSnapshotResponse represents an InstallSnapshot RPC response.
type InstallSnapshotResponse struct {
	Term uint64
}
