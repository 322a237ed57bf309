// Package shardkv implements the per-replica-group key-value state
// machine: ordinary Get/Put/Append plus the three internal commands
// (CfgChange/PutShard/DelShard) that move shards between groups as the
// shard controller's configuration advances. A Machine only ever acts on
// commands it is handed through pkg/service -- the migration background
// loop that decides when to submit CfgChange/PutShard/DelShard lives in
// group.go, outside the state machine itself.
package shardkv

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/tomasreyes/shardraft/pkg/shardctrler"
)

// Error values for this package; ClassifyError in group.go translates
// them into transport.ErrorCode. Apply never returns ErrNoKey: a Get of a
// missing key returns an empty value.
var (
	ErrWrongGroup = fmt.Errorf("shardkv: wrong group for this shard")
	ErrNoKey      = fmt.Errorf("shardkv: no such key")

	// ErrWrongCfg is returned by applyPutShard when the destination has
	// not yet staged the configuration the push belongs to. The source
	// must not treat this as delivered -- it retries with backoff
	// instead of deleting its own copy.
	ErrWrongCfg = fmt.Errorf("shardkv: destination has not staged this config yet")
)

type opKind int

const (
	opGet opKind = iota
	opPut
	opAppend
	opCfgChange
	opPutShard
	opDelShard
)

// Op is the single command type submitted through the replicated log.
type Op struct {
	Kind opKind

	Key   string
	Value string

	Cfg shardctrler.Config

	ShardCfgNum int
	Shard       int
	ShardData   map[string]string
}

// GetArgs/PutAppendArgs describe client requests as separate shapes; the
// Clerk in this package builds an Op directly and does not use them.
type GetArgs struct{ Key string }
type PutAppendArgs struct {
	Key   string
	Value string
	Kind  string // "Put" or "Append"
}

// Machine is the shardkv group's service.StateMachine.
type Machine struct {
	gid int

	cfg     shardctrler.Config
	nextCfg *shardctrler.Config

	data map[int]map[string]string // shard -> key -> value
}

// NewMachine creates an empty machine for replica group gid, owning
// nothing until CfgChange to config 1 is applied.
func NewMachine(gid int) *Machine {
	return &Machine{
		gid:  gid,
		data: make(map[int]map[string]string),
	}
}

// Apply decodes and executes one Op.
func (m *Machine) Apply(_ uint64, command []byte) ([]byte, error) {
	var op Op
	if err := gob.NewDecoder(bytes.NewReader(command)).Decode(&op); err != nil {
		return nil, fmt.Errorf("shardkv: decode op: %w", err)
	}

	switch op.Kind {
	case opGet:
		return m.applyGet(op.Key)
	case opPut:
		return nil, m.applyPutAppend(op.Key, op.Value, true)
	case opAppend:
		return nil, m.applyPutAppend(op.Key, op.Value, false)
	case opCfgChange:
		return nil, m.applyCfgChange(op.Cfg)
	case opPutShard:
		return nil, m.applyPutShard(op.ShardCfgNum, op.Shard, op.ShardData)
	case opDelShard:
		return nil, m.applyDelShard(op.ShardCfgNum, op.Shard)
	default:
		return nil, fmt.Errorf("shardkv: unknown op kind %d", op.Kind)
	}
}

func (m *Machine) applyGet(key string) ([]byte, error) {
	shard := keyShard(key)
	if !m.canServe(shard) {
		return nil, ErrWrongGroup
	}
	kv, ok := m.data[shard]
	if !ok {
		return []byte{}, nil
	}
	v, ok := kv[key]
	if !ok {
		return []byte{}, nil
	}
	return []byte(v), nil
}

func (m *Machine) applyPutAppend(key, value string, isPut bool) error {
	shard := keyShard(key)
	if !m.canServe(shard) {
		return ErrWrongGroup
	}
	kv, ok := m.data[shard]
	if !ok {
		kv = make(map[string]string)
		m.data[shard] = kv
	}
	if isPut {
		kv[key] = value
	} else {
		kv[key] = kv[key] + value
	}
	return nil
}

// canServe implements the client-serving rule: outside a
// reconfiguration, ownership follows cfg directly; mid-reconfiguration, a
// shard is served once this group both is slated to own it under
// nextCfg and either already owned it under cfg or has already received
// it via PutShard.
func (m *Machine) canServe(shard int) bool {
	if m.nextCfg == nil {
		return m.cfg.Shards[shard] == m.gid
	}
	if m.nextCfg.Shards[shard] != m.gid {
		return false
	}
	if m.cfg.Shards[shard] == m.gid {
		return true
	}
	_, received := m.data[shard]
	return received
}

// applyCfgChange adopts cfg as the new target configuration. cfg.Num ==
// 1 is adopted immediately (there is nothing to migrate into an empty
// group from); any later config is staged as nextCfg until every shard
// it reassigns has actually moved.
func (m *Machine) applyCfgChange(cfg shardctrler.Config) error {
	if cfg.Num != m.cfg.Num+1 || m.nextCfg != nil {
		return nil // stale or already in flight: ignore, matches at-most-once semantics
	}

	if cfg.Num == 1 {
		m.cfg = cfg
		for shard, gid := range cfg.Shards {
			if gid == m.gid {
				if _, ok := m.data[shard]; !ok {
					m.data[shard] = make(map[string]string)
				}
			}
		}
		return nil
	}

	staged := cfg
	m.nextCfg = &staged
	m.maybeCompleteReconfig()
	return nil
}

func (m *Machine) applyPutShard(cfgNum, shard int, incoming map[string]string) error {
	if _, already := m.data[shard]; already {
		return nil
	}
	if m.cfg.Num != cfgNum || m.nextCfg == nil {
		// Destination hasn't staged cfgNum+1 yet (its own CfgChange
		// hasn't applied), or it's already moved past cfgNum entirely.
		// Either way it must not silently accept the shard: the source
		// would read success and delete its own copy. Force a retry.
		return ErrWrongCfg
	}
	kv := make(map[string]string, len(incoming))
	for k, v := range incoming {
		kv[k] = v
	}
	m.data[shard] = kv
	m.maybeCompleteReconfig()
	return nil
}

func (m *Machine) applyDelShard(cfgNum, shard int) error {
	if m.cfg.Num != cfgNum || m.nextCfg == nil {
		return nil
	}
	delete(m.data, shard)
	m.maybeCompleteReconfig()
	return nil
}

// maybeCompleteReconfig promotes nextCfg to cfg once every shard's
// membership under nextCfg matches what this group actually holds.
func (m *Machine) maybeCompleteReconfig() {
	if m.nextCfg == nil {
		return
	}
	for shard := 0; shard < shardctrler.NShards; shard++ {
		_, have := m.data[shard]
		want := m.nextCfg.Shards[shard] == m.gid
		if want != have {
			return
		}
	}
	m.cfg = *m.nextCfg
	m.nextCfg = nil
}

// CurrentCfg and PendingCfg are read-only accessors for the migration
// background loop and the admin status surface; both must only be
// called from inside a pkg/service.Service.ReadOnly callback.
func (m *Machine) CurrentCfg() shardctrler.Config { return m.cfg }

func (m *Machine) PendingCfg() *shardctrler.Config {
	if m.nextCfg == nil {
		return nil
	}
	staged := *m.nextCfg
	return &staged
}

// ShardSnapshot copies out the key-value contents of shard for a
// PutShard migration call. ok is false if this group does not currently
// hold the shard.
func (m *Machine) ShardSnapshot(shard int) (kv map[string]string, ok bool) {
	existing, ok := m.data[shard]
	if !ok {
		return nil, false
	}
	kv = make(map[string]string, len(existing))
	for k, v := range existing {
		kv[k] = v
	}
	return kv, true
}

// OwnedShards lists the shards this group currently holds data for.
func (m *Machine) OwnedShards() []int {
	shards := make([]int, 0, len(m.data))
	for shard := range m.data {
		shards = append(shards, shard)
	}
	return shards
}

func keyShard(key string) int {
	if len(key) == 0 {
		return 0
	}
	return int(key[0]) % shardctrler.NShards
}

type machineSnapshot struct {
	Cfg     shardctrler.Config
	NextCfg *shardctrler.Config
	Data    map[int]map[string]string
}

// Snapshot and Restore satisfy service.StateMachine.
func (m *Machine) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(machineSnapshot{Cfg: m.cfg, NextCfg: m.nextCfg, Data: m.data})
	return buf.Bytes(), err
}

func (m *Machine) Restore(data []byte) error {
	var snap machineSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("shardkv: restore: %w", err)
	}
	m.cfg = snap.Cfg
	m.nextCfg = snap.NextCfg
	m.data = snap.Data
	if m.data == nil {
		m.data = make(map[int]map[string]string)
	}
	return nil
}

// shardsLeaving returns, for the transition from m's current cfg to
// next, the shards this group owns now but will not own under next --
// the set group.go's migration loop must push out via PutShard/DelShard.
func shardsLeaving(cfg shardctrler.Config, next shardctrler.Config, gid int) []int {
	var leaving []int
	for shard, owner := range cfg.Shards {
		if owner == gid && next.Shards[shard] != gid {
			leaving = append(leaving, shard)
		}
	}
	return leaving
}
