package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tomasreyes/shardraft/pkg/raft"
)

// Network is an in-memory fault-injecting network shared by every
// LocalTransport registered onto it -- test-only, never part of the
// production wire path (that's GRPCTransport). Supports partitions, drop
// rate, and bounded random delay, all driven from a single seeded
// rand.Rand so a failing test is reproducible.
type Network struct {
	mu         sync.RWMutex
	nodes      map[string]*LocalTransport
	partitions map[string]map[string]bool
	dropRate   float64
	minDelay   time.Duration
	maxDelay   time.Duration
	rand       *rand.Rand
}

// NewNetwork creates a network with the given drop rate and delay range,
// seeded for reproducibility.
func NewNetwork(dropRate float64, minDelay, maxDelay time.Duration, seed int64) *Network {
	return &Network{
		nodes:      make(map[string]*LocalTransport),
		partitions: make(map[string]map[string]bool),
		dropRate:   dropRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		rand:       rand.New(rand.NewSource(seed)),
	}
}

func (n *Network) register(addr string, t *LocalTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[addr] = t
	if n.partitions[addr] == nil {
		n.partitions[addr] = make(map[string]bool)
	}
}

// Partition isolates addr from every other registered node.
func (n *Network) Partition(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for other := range n.nodes {
		if other != addr {
			n.partitions[addr][other] = true
			if n.partitions[other] == nil {
				n.partitions[other] = make(map[string]bool)
			}
			n.partitions[other][addr] = true
		}
	}
}

// Heal removes every partition involving addr.
func (n *Network) Heal(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for other := range n.nodes {
		if other != addr {
			delete(n.partitions[addr], other)
			delete(n.partitions[other], addr)
		}
	}
}

// PartitionBetween isolates exactly the a<->b link.
func (n *Network) PartitionBetween(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.partitions[a] == nil {
		n.partitions[a] = make(map[string]bool)
	}
	if n.partitions[b] == nil {
		n.partitions[b] = make(map[string]bool)
	}
	n.partitions[a][b] = true
	n.partitions[b][a] = true
}

// HealBetween restores exactly the a<->b link.
func (n *Network) HealBetween(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitions[a], b)
	delete(n.partitions[b], a)
}

// IsPartitioned reports whether a and b cannot currently reach each other.
func (n *Network) IsPartitioned(a, b string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.partitions[a][b]
}

// SetDropRate changes the probability a delivered-but-unpartitioned
// message is dropped anyway.
func (n *Network) SetDropRate(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRate = rate
}

// SetDelay changes the delivery delay range.
func (n *Network) SetDelay(min, max time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minDelay, n.maxDelay = min, max
}

func (n *Network) shouldDrop() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rand.Float64() < n.dropRate
}

func (n *Network) delay() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.maxDelay <= n.minDelay {
		return n.minDelay
	}
	return n.minDelay + time.Duration(n.rand.Int63n(int64(n.maxDelay-n.minDelay)))
}

func (n *Network) lookup(addr string) (*LocalTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[addr]
	return t, ok
}

// LocalTransport is one node's handle onto a shared Network. It
// implements raft.Transport plus the generic Submit RPC, so it can stand
// in for GRPCTransport in tests without a real listener.
type LocalTransport struct {
	network *Network
	addr    string

	raftHandler   RaftHandler
	submitHandler SubmitHandler
}

// NewLocalTransport registers and returns a transport for addr on network.
func NewLocalTransport(network *Network, addr string) *LocalTransport {
	t := &LocalTransport{network: network, addr: addr}
	network.register(addr, t)
	return t
}

func (t *LocalTransport) SetRaftHandler(h RaftHandler)     { t.raftHandler = h }
func (t *LocalTransport) SetSubmitHandler(h SubmitHandler) { t.submitHandler = h }

func (t *LocalTransport) deliver(ctx context.Context, target string) (*LocalTransport, error) {
	if t.network.IsPartitioned(t.addr, target) {
		return nil, fmt.Errorf("transport: %s unreachable from %s (partitioned)", target, t.addr)
	}
	if t.network.shouldDrop() {
		return nil, fmt.Errorf("transport: message %s->%s dropped", t.addr, target)
	}
	select {
	case <-time.After(t.network.delay()):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	peer, ok := t.network.lookup(target)
	if !ok {
		return nil, fmt.Errorf("transport: unknown target %s", target)
	}
	return peer, nil
}

func (t *LocalTransport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	peer, err := t.deliver(ctx, target)
	if err != nil {
		return nil, err
	}
	return peer.raftHandler.HandleRequestVote(req), nil
}

func (t *LocalTransport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	peer, err := t.deliver(ctx, target)
	if err != nil {
		return nil, err
	}
	return peer.raftHandler.HandleAppendEntries(req), nil
}

func (t *LocalTransport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	peer, err := t.deliver(ctx, target)
	if err != nil {
		return nil, err
	}
	return peer.raftHandler.HandleInstallSnapshot(req), nil
}

func (t *LocalTransport) Submit(ctx context.Context, target string, req *CommandRequest) (*CommandResponse, error) {
	peer, err := t.deliver(ctx, target)
	if err != nil {
		return nil, err
	}
	if peer.submitHandler == nil {
		return &CommandResponse{ErrorCode: ErrCodeFailed}, nil
	}
	return peer.submitHandler.HandleSubmit(ctx, req), nil
}
