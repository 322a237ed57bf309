package shardkv

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomasreyes/shardraft/pkg/clerk"
	"github.com/tomasreyes/shardraft/pkg/shardctrler"
)

const maxClientAttempts = 100

// Clerk is the external, end-user-facing key-value client: it resolves
// a key to its owning group via a cached controller configuration,
// re-querying the controller whenever a group replies WrongGroup (or the
// cached config is still empty), and gives up after maxClientAttempts.
type Clerk struct {
	ctrl      *shardctrler.Clerk
	transport clerk.Submitter

	mu     sync.Mutex
	cfg    shardctrler.Config
	clerks map[int]*clerk.Clerk
}

// NewClerk creates a client of the whole sharded store, given a clerk
// already pointed at the shard controller's replicas.
func NewClerk(ctrl *shardctrler.Clerk, t clerk.Submitter) *Clerk {
	return &Clerk{
		ctrl:      ctrl,
		transport: t,
		clerks:    make(map[int]*clerk.Clerk),
	}
}

func (c *Clerk) Get(ctx context.Context, key string) (string, error) {
	out, err := c.call(ctx, Op{Kind: opGet, Key: key})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Clerk) Put(ctx context.Context, key, value string) error {
	_, err := c.call(ctx, Op{Kind: opPut, Key: key, Value: value})
	return err
}

func (c *Clerk) Append(ctx context.Context, key, value string) error {
	_, err := c.call(ctx, Op{Kind: opAppend, Key: key, Value: value})
	return err
}

func (c *Clerk) call(ctx context.Context, op Op) ([]byte, error) {
	shard := keyShard(op.Key)

	if err := c.ensureConfig(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxClientAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		gid, servers := c.shardOwner(shard)
		if gid == 0 {
			if err := c.refreshConfig(ctx); err != nil {
				return nil, err
			}
			continue
		}

		wire, err := encodeOp(op)
		if err != nil {
			return nil, err
		}

		out, err := c.groupClerk(gid, servers).Call(ctx, wire)
		switch err {
		case nil:
			return out, nil
		case clerk.ErrWrongGroup:
			if err := c.refreshConfig(ctx); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("shardkv: giving up on key %q after %d attempts", op.Key, maxClientAttempts)
}

func (c *Clerk) shardOwner(shard int) (int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gid := c.cfg.Shards[shard]
	return gid, append([]string(nil), c.cfg.Groups[gid]...)
}

func (c *Clerk) ensureConfig(ctx context.Context) error {
	c.mu.Lock()
	haveCfg := c.cfg.Num > 0
	c.mu.Unlock()
	if haveCfg {
		return nil
	}
	return c.refreshConfig(ctx)
}

func (c *Clerk) refreshConfig(ctx context.Context) error {
	cfg, err := c.ctrl.Query(ctx, -1)
	if err != nil {
		return fmt.Errorf("shardkv: query controller: %w", err)
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

func (c *Clerk) groupClerk(gid int, servers []string) *clerk.Clerk {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clerks[gid]; ok {
		cl.SetServers(servers)
		return cl
	}
	cl := clerk.New(c.transport, servers)
	c.clerks[gid] = cl
	return cl
}
