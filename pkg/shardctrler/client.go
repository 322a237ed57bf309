package shardctrler

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/tomasreyes/shardraft/pkg/clerk"
)

// Clerk is the admin-facing client of the shard controller group: the
// cluster operator's CLI and every shard-store group's config-poll loop
// both go through one of these.
type Clerk struct {
	c *clerk.Clerk
}

// NewClerk wraps an underlying clerk.Clerk already pointed at the
// controller group's replica addresses.
func NewClerk(c *clerk.Clerk) *Clerk {
	return &Clerk{c: c}
}

func (c *Clerk) call(ctx context.Context, op Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(op); err != nil {
		return nil, fmt.Errorf("shardctrler: encode op: %w", err)
	}
	return c.c.Call(ctx, buf.Bytes())
}

// Join adds (or updates) the given groups and triggers a rebalance.
func (c *Clerk) Join(ctx context.Context, servers map[int][]string) error {
	_, err := c.call(ctx, Op{Kind: opJoin, JoinServers: servers})
	return err
}

// Leave removes the given groups and triggers a rebalance.
func (c *Clerk) Leave(ctx context.Context, gids []int) error {
	_, err := c.call(ctx, Op{Kind: opLeave, LeaveGIDs: gids})
	return err
}

// Move assigns shard to gid directly, bypassing rebalancing.
func (c *Clerk) Move(ctx context.Context, shard, gid int) error {
	_, err := c.call(ctx, Op{Kind: opMove, MoveShard: shard, MoveGID: gid})
	return err
}

// Query returns the configuration numbered num, or the latest one if num
// is negative or past the end of the sequence.
func (c *Clerk) Query(ctx context.Context, num int) (Config, error) {
	out, err := c.call(ctx, Op{Kind: opQuery, QueryNum: num})
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := gob.NewDecoder(bytes.NewReader(out)).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("shardctrler: decode config: %w", err)
	}
	return cfg, nil
}
