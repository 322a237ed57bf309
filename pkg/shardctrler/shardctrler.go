// Package shardctrler implements the control-plane state machine: an
// append-only sequence of shard-to-group assignments (Config), advanced
// by Join/Leave/Move and served back out (unmutated) by Query. It rides
// on pkg/service the same way every shard-store group does; the only
// difference is its state machine is this package's Machine instead of
// shardkv's.
package shardctrler

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"

	"github.com/tomasreyes/shardraft/pkg/raft"
	"github.com/tomasreyes/shardraft/pkg/transport"
)

// NShards is the fixed number of shards the keyspace is partitioned
// into.
const NShards = 10

// Config is one entry in the append-only configuration sequence. Shards
// maps a shard number to the id of the group currently serving it; gid 0
// means unassigned (rebalancing leaves every shard at 0 while no group is
// joined, as in Config 0).
type Config struct {
	Num    int
	Shards [NShards]int
	Groups map[int][]string // gid -> replica addresses
}

func (c Config) clone() Config {
	clone := Config{Num: c.Num, Shards: c.Shards, Groups: make(map[int][]string, len(c.Groups))}
	for gid, servers := range c.Groups {
		clone.Groups[gid] = append([]string(nil), servers...)
	}
	return clone
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opMove
	opQuery
)

// Op is the single command type submitted through the replicated log;
// which fields matter depends on Kind.
type Op struct {
	Kind opKind

	JoinServers map[int][]string
	LeaveGIDs   []int
	MoveShard   int
	MoveGID     int
	QueryNum    int
}

// Machine is the shardctrler's service.StateMachine.
type Machine struct {
	configs []Config
}

// NewMachine returns a Machine seeded with the required empty Config 0.
func NewMachine() *Machine {
	return &Machine{configs: []Config{{Groups: map[int][]string{}}}}
}

// Apply decodes and executes one Op. requestID is unused here: dedup is
// handled entirely by pkg/service before Apply is ever called.
func (m *Machine) Apply(_ uint64, command []byte) ([]byte, error) {
	var op Op
	if err := gob.NewDecoder(bytes.NewReader(command)).Decode(&op); err != nil {
		return nil, fmt.Errorf("shardctrler: decode op: %w", err)
	}

	switch op.Kind {
	case opJoin:
		m.applyJoin(op.JoinServers)
		return nil, nil
	case opLeave:
		m.applyLeave(op.LeaveGIDs)
		return nil, nil
	case opMove:
		m.applyMove(op.MoveShard, op.MoveGID)
		return nil, nil
	case opQuery:
		cfg := m.query(op.QueryNum)
		return encodeGob(cfg)
	default:
		return nil, fmt.Errorf("shardctrler: unknown op kind %d", op.Kind)
	}
}

func (m *Machine) latest() Config {
	return m.configs[len(m.configs)-1]
}

func (m *Machine) applyJoin(servers map[int][]string) {
	next := m.latest().clone()
	next.Num++
	for gid, addrs := range servers {
		next.Groups[gid] = append([]string(nil), addrs...)
	}
	next.Shards = rebalance(next.Shards, sortedGIDs(next.Groups))
	m.configs = append(m.configs, next)
}

func (m *Machine) applyLeave(gids []int) {
	next := m.latest().clone()
	next.Num++
	leaving := make(map[int]bool, len(gids))
	for _, gid := range gids {
		leaving[gid] = true
		delete(next.Groups, gid)
	}
	next.Shards = rebalance(next.Shards, sortedGIDs(next.Groups))
	m.configs = append(m.configs, next)
}

func (m *Machine) applyMove(shard, gid int) {
	next := m.latest().clone()
	next.Num++
	if shard >= 0 && shard < NShards {
		next.Shards[shard] = gid
	}
	m.configs = append(m.configs, next)
}

func (m *Machine) query(num int) Config {
	if num < 0 || num >= len(m.configs) {
		return m.latest().clone()
	}
	return m.configs[num].clone()
}

// QueryForStatus returns the latest config and how many configs exist --
// called directly (bypassing Apply) from a ReadOnly barrier for the admin
// HTTP status surface, never through the replicated log.
func (m *Machine) QueryForStatus() (Config, int) {
	return m.latest().clone(), len(m.configs)
}

// ClassifyError maps a Machine/engine error to the transport-level error
// taxonomy; hint carries a leader node id the caller must translate into
// an address (the submit handler in cmd/shardctrlerd knows the peer
// address table, this package does not).
func ClassifyError(err error) (code transport.ErrorCode, hint string) {
	if err == nil {
		return transport.ErrCodeOK, ""
	}
	var notLeader *raft.NotLeaderError
	switch {
	case errors.As(err, &notLeader):
		return transport.ErrCodeNotLeader, notLeader.Hint
	case errors.Is(err, raft.ErrTimeout):
		return transport.ErrCodeTimeout, ""
	case errors.Is(err, raft.ErrStaleRequest):
		return transport.ErrCodeFailed, ""
	default:
		return transport.ErrCodeFailed, ""
	}
}

func sortedGIDs(groups map[int][]string) []int {
	gids := make([]int, 0, len(groups))
	for gid := range groups {
		gids = append(gids, gid)
	}
	sort.Ints(gids)
	return gids
}

// rebalance redistributes shards across gids (sorted ascending) as
// evenly as possible, keeping shards with their current owner where the
// owner's quota allows. It does not always move the fewest possible
// shards, since quotas go to the lowest gids first: walk
// the shard array in order, let each shard stay with its current owner
// while that owner still has remaining quota, and otherwise hand it to
// the lowest-numbered gid that still has quota left. The whole
// computation only ever iterates sorted slices, never a map, so two
// replicas presented with the same inputs always compute the same
// output.
func rebalance(current [NShards]int, gids []int) [NShards]int {
	var next [NShards]int
	if len(gids) == 0 {
		return next
	}

	n := len(gids)
	base := NShards / n
	extra := NShards % n
	remaining := make(map[int]int, n)
	for i, gid := range gids {
		t := base
		if i < extra {
			t++
		}
		remaining[gid] = t
	}

	owner := make(map[int]bool, n)
	for _, gid := range gids {
		owner[gid] = true
	}

	for shard, gid := range current {
		if owner[gid] && remaining[gid] > 0 {
			next[shard] = gid
			remaining[gid]--
			continue
		}
		for _, candidate := range gids {
			if remaining[candidate] > 0 {
				next[shard] = candidate
				remaining[candidate]--
				break
			}
		}
	}
	return next
}

// Snapshot and Restore satisfy service.StateMachine.
func (m *Machine) Snapshot() ([]byte, error) {
	return encodeGob(m.configs)
}

func (m *Machine) Restore(data []byte) error {
	var configs []Config
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&configs); err != nil {
		return fmt.Errorf("shardctrler: restore: %w", err)
	}
	m.configs = configs
	return nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
