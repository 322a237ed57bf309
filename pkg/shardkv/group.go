package shardkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomasreyes/shardraft/pkg/clerk"
	"github.com/tomasreyes/shardraft/pkg/raft"
	"github.com/tomasreyes/shardraft/pkg/service"
	"github.com/tomasreyes/shardraft/pkg/shardctrler"
	"github.com/tomasreyes/shardraft/pkg/transport"
)

const configPollInterval = 100 * time.Millisecond
const migrationRetryInterval = 100 * time.Millisecond

// Group fronts one replica's Service[*Machine]: it answers client
// Get/Put/Append, polls the shard controller for the next configuration,
// and drives shard migration in and out of this group. It is the piece
// that sits outside the state machine -- the Machine itself only
// validates and applies CfgChange/PutShard/DelShard once they reach the
// log; deciding when to submit them is Group's job.
type Group struct {
	gid       int
	engine    *raft.Engine
	svc       *service.Service[*Machine]
	transport clerk.Submitter
	ctrl      *shardctrler.Clerk
	logger    *log.Logger

	clientTag uint64
	seq       uint64 // atomic

	mu        sync.Mutex
	peers     map[int]*clerk.Clerk
	inFlight  map[int]bool

	done chan struct{}
}

// NewGroup wires a Group around an already-constructed Service. engine
// must be the same engine svc was built on (Group needs IsLeader, which
// Service does not expose).
func NewGroup(gid int, engine *raft.Engine, svc *service.Service[*Machine], t clerk.Submitter, ctrl *shardctrler.Clerk, logger *log.Logger) *Group {
	id := uuid.New()
	return &Group{
		gid:       gid,
		engine:    engine,
		svc:       svc,
		transport: t,
		ctrl:      ctrl,
		logger:    logger,
		clientTag: binary.BigEndian.Uint64(id[:8]),
		peers:     make(map[int]*clerk.Clerk),
		inFlight:  make(map[int]bool),
		done:      make(chan struct{}),
	}
}

// Start launches the background config-poll and migration loops.
// Service.Start must already have been called.
func (g *Group) Start() {
	go g.configPollLoop()
	go g.migrationLoop()
}

func (g *Group) Stop() {
	close(g.done)
}

func (g *Group) nextRequestID() uint64 {
	return g.clientTag ^ atomic.AddUint64(&g.seq, 1)
}

// Get, Put and Append submit a client command directly through this
// replica's Service; requestID is supplied by the caller so retries dedup
// correctly across the whole call. pkg/shardkv.Clerk does not use them:
// it reaches a group through the transport's Submit RPC.
func (g *Group) Get(ctx context.Context, requestID uint64, key string) (string, error) {
	out, err := g.submitLocal(ctx, requestID, Op{Kind: opGet, Key: key})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (g *Group) Put(ctx context.Context, requestID uint64, key, value string) error {
	_, err := g.submitLocal(ctx, requestID, Op{Kind: opPut, Key: key, Value: value})
	return err
}

func (g *Group) Append(ctx context.Context, requestID uint64, key, value string) error {
	_, err := g.submitLocal(ctx, requestID, Op{Kind: opAppend, Key: key, Value: value})
	return err
}

func (g *Group) submitLocal(ctx context.Context, requestID uint64, op Op) ([]byte, error) {
	wire, err := encodeOp(op)
	if err != nil {
		return nil, err
	}
	return g.svc.Call(ctx, requestID, wire)
}

// configPollLoop drives the first step of migration: poll the
// controller for cfg.num+1 and, once it arrives with nothing already in
// flight, submit CfgChange.
func (g *Group) configPollLoop() {
	ticker := time.NewTicker(configPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.pollOnce()
		}
	}
}

func (g *Group) pollOnce() {
	if !g.engine.IsLeader() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), configPollInterval)
	defer cancel()

	var cur shardctrler.Config
	var pending bool
	if err := g.svc.ReadOnly(ctx, func(sm *Machine) {
		cur = sm.CurrentCfg()
		pending = sm.PendingCfg() != nil
	}); err != nil || pending {
		return
	}

	next, err := g.ctrl.Query(ctx, cur.Num+1)
	if err != nil || next.Num != cur.Num+1 {
		return
	}

	wire, err := encodeOp(Op{Kind: opCfgChange, Cfg: next})
	if err != nil {
		g.logger.Printf("shardkv[%d]: encode CfgChange: %v", g.gid, err)
		return
	}
	if _, err := g.svc.Call(ctx, g.nextRequestID(), wire); err != nil {
		g.logger.Printf("shardkv[%d]: submit CfgChange %d: %v", g.gid, next.Num, err)
	}
}

// migrationLoop implements steps 2-3: for every shard this group must
// give up under the pending configuration, push its contents to the
// destination group (retrying on WrongCfg, per clerk.Clerk's own retry
// loop) and then delete it locally.
func (g *Group) migrationLoop() {
	ticker := time.NewTicker(migrationRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.pushPendingShards()
		}
	}
}

type pendingShard struct {
	shard  int
	destGID int
	servers []string
	cfgNum int
	kv     map[string]string
}

func (g *Group) pushPendingShards() {
	if !g.engine.IsLeader() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrationRetryInterval)
	defer cancel()

	var toPush []pendingShard
	err := g.svc.ReadOnly(ctx, func(sm *Machine) {
		cur := sm.CurrentCfg()
		next := sm.PendingCfg()
		if next == nil {
			return
		}
		for _, shard := range shardsLeaving(cur, *next, g.gid) {
			kv, ok := sm.ShardSnapshot(shard)
			if !ok {
				continue // already pushed out and deleted locally
			}
			toPush = append(toPush, pendingShard{
				shard:   shard,
				destGID: next.Shards[shard],
				servers: next.Groups[next.Shards[shard]],
				cfgNum:  cur.Num,
				kv:      kv,
			})
		}
	})
	if err != nil {
		return
	}

	for _, ps := range toPush {
		if g.markInFlight(ps.shard) {
			go g.migrateShard(ps)
		}
	}
}

func (g *Group) markInFlight(shard int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[shard] {
		return false
	}
	g.inFlight[shard] = true
	return true
}

func (g *Group) clearInFlight(shard int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, shard)
}

func (g *Group) migrateShard(ps pendingShard) {
	defer g.clearInFlight(ps.shard)

	dest := g.peerClerk(ps.destGID, ps.servers)

	wire, err := encodeOp(Op{Kind: opPutShard, ShardCfgNum: ps.cfgNum, Shard: ps.shard, ShardData: ps.kv})
	if err != nil {
		g.logger.Printf("shardkv[%d]: encode PutShard(%d): %v", g.gid, ps.shard, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := dest.Call(ctx, wire); err != nil {
		g.logger.Printf("shardkv[%d]: PutShard(%d) to group %d: %v", g.gid, ps.shard, ps.destGID, err)
		return
	}

	del, err := encodeOp(Op{Kind: opDelShard, ShardCfgNum: ps.cfgNum, Shard: ps.shard})
	if err != nil {
		g.logger.Printf("shardkv[%d]: encode DelShard(%d): %v", g.gid, ps.shard, err)
		return
	}
	if _, err := g.svc.Call(ctx, g.nextRequestID(), del); err != nil {
		g.logger.Printf("shardkv[%d]: DelShard(%d): %v", g.gid, ps.shard, err)
	}
}

func (g *Group) peerClerk(gid int, servers []string) *clerk.Clerk {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.peers[gid]
	if !ok {
		c = clerk.New(g.transport, servers)
		g.peers[gid] = c
		return c
	}
	c.SetServers(servers)
	return c
}

// GroupStatus is the admin-visible snapshot exposed over pkg/api's HTTP
// status surface: owned shards, pending config, migration progress.
type GroupStatus struct {
	GID          int
	Leader       string
	Term         uint64
	IsLeader     bool
	Cfg          shardctrler.Config
	PendingCfg   *shardctrler.Config
	OwnedShards  []int
	MigrationsInFlight []int
}

// Status reports this replica's view of its group.
func (g *Group) Status(ctx context.Context) (GroupStatus, error) {
	leader, term, isLeader := g.engine.Status()
	status := GroupStatus{GID: g.gid, Leader: leader, Term: term, IsLeader: isLeader}

	err := g.svc.ReadOnly(ctx, func(sm *Machine) {
		status.Cfg = sm.CurrentCfg()
		status.PendingCfg = sm.PendingCfg()
		status.OwnedShards = sm.OwnedShards()
	})
	if err != nil {
		return status, err
	}

	g.mu.Lock()
	for shard := range g.inFlight {
		status.MigrationsInFlight = append(status.MigrationsInFlight, shard)
	}
	g.mu.Unlock()
	return status, nil
}

// ClassifyError maps a Machine/engine error to the transport-level error
// taxonomy; hint carries a leader node id the caller must translate into
// an address (the submit handler in cmd/shardkvd knows the peer address
// table, this package does not).
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
	case errors.Is(err, ErrWrongGroup):
		return transport.ErrCodeWrongGroup, ""
	case errors.Is(err, ErrWrongCfg):
		return transport.ErrCodeWrongCfg, ""
	default:
		return transport.ErrCodeFailed, ""
	}
}

func encodeOp(op Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(op); err != nil {
		return nil, fmt.Errorf("shardkv: encode op: %w", err)
	}
	return buf.Bytes(), nil
}
