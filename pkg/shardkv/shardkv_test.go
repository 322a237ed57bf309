package shardkv

import (
	"testing"

	"github.com/tomasreyes/shardraft/pkg/shardctrler"
)

func cfgOwningAll(num, gid int) shardctrler.Config {
	var shards [shardctrler.NShards]int
	for i := range shards {
		shards[i] = gid
	}
	return shardctrler.Config{Num: num, Shards: shards, Groups: map[int][]string{gid: {"addr"}}}
}

func TestPutGetWithinOwnedShard(t *testing.T) {
	m := NewMachine(1)
	cfgOp, _ := encodeOp(Op{Kind: opCfgChange, Cfg: cfgOwningAll(1, 1)})
	if _, err := m.Apply(1, cfgOp); err != nil {
		t.Fatalf("cfg change: %v", err)
	}

	putOp, _ := encodeOp(Op{Kind: opPut, Key: "k", Value: "v"})
	if _, err := m.Apply(2, putOp); err != nil {
		t.Fatalf("put: %v", err)
	}

	getOp, _ := encodeOp(Op{Kind: opGet, Key: "k"})
	out, err := m.Apply(3, getOp)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "v" {
		t.Fatalf("expected %q, got %q", "v", out)
	}
}

func TestAppendAccumulates(t *testing.T) {
	m := NewMachine(1)
	cfgOp, _ := encodeOp(Op{Kind: opCfgChange, Cfg: cfgOwningAll(1, 1)})
	m.Apply(1, cfgOp)

	putOp, _ := encodeOp(Op{Kind: opPut, Key: "k", Value: "a"})
	m.Apply(2, putOp)
	appendOp, _ := encodeOp(Op{Kind: opAppend, Key: "k", Value: "b"})
	m.Apply(3, appendOp)

	getOp, _ := encodeOp(Op{Kind: opGet, Key: "k"})
	out, _ := m.Apply(4, getOp)
	if string(out) != "ab" {
		t.Fatalf("expected %q, got %q", "ab", out)
	}
}

func TestWrongGroupRejected(t *testing.T) {
	m := NewMachine(1) // never adopts any config; owns nothing
	getOp, _ := encodeOp(Op{Kind: opGet, Key: "k"})
	if _, err := m.Apply(1, getOp); err != ErrWrongGroup {
		t.Fatalf("expected ErrWrongGroup, got %v", err)
	}
}

func TestReconfigMigratesShardsBetweenGroups(t *testing.T) {
	src := NewMachine(1)
	dst := NewMachine(2)

	cfg1 := cfgOwningAll(1, 1)
	cfgOp, _ := encodeOp(Op{Kind: opCfgChange, Cfg: cfg1})
	src.Apply(1, cfgOp)

	putOp, _ := encodeOp(Op{Kind: opPut, Key: "k", Value: "v"})
	src.Apply(2, putOp)

	cfg2 := cfgOwningAll(2, 2) // every shard now belongs to group 2

	next, _ := encodeOp(Op{Kind: opCfgChange, Cfg: cfg2})
	src.Apply(3, next)
	if src.PendingCfg() == nil {
		t.Fatalf("expected reconfiguration to stage nextCfg, not complete immediately")
	}

	// dst must adopt config 1 first (it owns nothing yet) before it can
	// receive a PutShard for config 2.
	dstCfg1, _ := encodeOp(Op{Kind: opCfgChange, Cfg: shardctrler.Config{Num: 1, Groups: map[int][]string{1: {"a"}}}})
	dst.Apply(1, dstCfg1)
	dstNext, _ := encodeOp(Op{Kind: opCfgChange, Cfg: cfg2})
	dst.Apply(2, dstNext)

	for shard := 0; shard < shardctrler.NShards; shard++ {
		kv, ok := src.ShardSnapshot(shard)
		if !ok {
			continue
		}
		putShard, _ := encodeOp(Op{Kind: opPutShard, ShardCfgNum: 1, Shard: shard, ShardData: kv})
		if _, err := dst.Apply(uint64(100+shard), putShard); err != nil {
			t.Fatalf("put shard %d: %v", shard, err)
		}
		delShard, _ := encodeOp(Op{Kind: opDelShard, ShardCfgNum: 1, Shard: shard})
		src.Apply(uint64(200+shard), delShard)
	}

	if src.PendingCfg() != nil {
		t.Fatalf("expected src reconfiguration to complete once all shards left")
	}
	if dst.PendingCfg() != nil {
		t.Fatalf("expected dst reconfiguration to complete once all shards arrived")
	}

	getOp, _ := encodeOp(Op{Kind: opGet, Key: "k"})
	out, err := dst.Apply(300, getOp)
	if err != nil {
		t.Fatalf("get on dst after migration: %v", err)
	}
	if string(out) != "v" {
		t.Fatalf("expected migrated value %q, got %q", "v", out)
	}

	if _, err := src.Apply(301, getOp); err != ErrWrongGroup {
		t.Fatalf("expected src to no longer own the key, got %v", err)
	}
}

func TestPutShardRejectedWhenDestinationHasNotStagedConfig(t *testing.T) {
	dst := NewMachine(2) // never adopts any config: behind the source entirely

	putShard, _ := encodeOp(Op{Kind: opPutShard, ShardCfgNum: 1, Shard: 0, ShardData: map[string]string{"k": "v"}})
	if _, err := dst.Apply(1, putShard); err != ErrWrongCfg {
		t.Fatalf("expected ErrWrongCfg, got %v", err)
	}
	if _, ok := dst.ShardSnapshot(0); ok {
		t.Fatal("expected shard not to be stored when destination has not staged the config")
	}
}

func TestPutShardRejectedWhenDestinationStillOnOldConfigNumOnly(t *testing.T) {
	dst := NewMachine(2)
	cfgOp, _ := encodeOp(Op{Kind: opCfgChange, Cfg: cfgOwningAll(1, 1)})
	dst.Apply(1, cfgOp) // adopts config 1, but never stages config 2 as nextCfg

	putShard, _ := encodeOp(Op{Kind: opPutShard, ShardCfgNum: 1, Shard: 0, ShardData: map[string]string{"k": "v"}})
	if _, err := dst.Apply(2, putShard); err != ErrWrongCfg {
		t.Fatalf("expected ErrWrongCfg, got %v", err)
	}
	if _, ok := dst.ShardSnapshot(0); ok {
		t.Fatal("expected shard not to be stored before nextCfg is staged")
	}
}

func TestShardsLeaving(t *testing.T) {
	cfg1 := cfgOwningAll(1, 1)
	var cfg2Shards [shardctrler.NShards]int
	cfg2Shards[0] = 2
	for i := 1; i < shardctrler.NShards; i++ {
		cfg2Shards[i] = 1
	}
	cfg2 := shardctrler.Config{Num: 2, Shards: cfg2Shards}

	leaving := shardsLeaving(cfg1, cfg2, 1)
	if len(leaving) != 1 || leaving[0] != 0 {
		t.Fatalf("expected only shard 0 leaving group 1, got %v", leaving)
	}
}

func TestKeyShardIsFirstByteModNShards(t *testing.T) {
	cases := []struct {
		key  string
		want int
	}{
		{"", 0},
		{"a", int('a') % shardctrler.NShards},
		{"apple", int('a') % shardctrler.NShards},
		{"zebra", int('z') % shardctrler.NShards},
	}
	for _, c := range cases {
		if got := keyShard(c.key); got != c.want {
			t.Errorf("keyShard(%q) = %d, want %d", c.key, got, c.want)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	m := NewMachine(1)
	cfgOp, _ := encodeOp(Op{Kind: opCfgChange, Cfg: cfgOwningAll(1, 1)})
	m.Apply(1, cfgOp)
	putOp, _ := encodeOp(Op{Kind: opPut, Key: "k", Value: "v"})
	m.Apply(2, putOp)

	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := NewMachine(1)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	getOp, _ := encodeOp(Op{Kind: opGet, Key: "k"})
	out, err := restored.Apply(3, getOp)
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if string(out) != "v" {
		t.Fatalf("expected %q after restore, got %q", "v", out)
	}
}
