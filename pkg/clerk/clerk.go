// Package clerk implements the retry loop shared by every client of a
// ReplicatedService: the shard controller's admin clerk and each
// shard-store group's clerk (and, internally, shard migration calls
// between groups). It does not know what the command bytes mean --
// callers encode/decode their own payloads.
package clerk

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomasreyes/shardraft/pkg/transport"
)

// ErrWrongGroup is returned when the target replica group has
// definitively told us it does not (and will never, for this shard under
// the current config) own the requested shard -- retrying against the
// same group is pointless; the caller must re-resolve ownership via the
// shard controller's Query.
var ErrWrongGroup = fmt.Errorf("clerk: wrong group for this shard")

// Submitter is the wire call a Clerk needs; *transport.GRPCTransport and
// *transport.LocalTransport both satisfy it.
type Submitter interface {
	Submit(ctx context.Context, target string, req *transport.CommandRequest) (*transport.CommandResponse, error)
}

const wrongCfgBackoff = 100 * time.Millisecond

// Clerk is a retrying client against one ReplicatedService's replica
// set. Safe for concurrent use.
type Clerk struct {
	transport Submitter
	clientTag uint64

	mu      sync.Mutex
	servers []string
	leader  int

	seq uint64 // atomic
}

// New mints a fresh client identity (via uuid) and returns a clerk
// targeting the given replica addresses.
func New(t Submitter, servers []string) *Clerk {
	id := uuid.New()
	return &Clerk{
		transport: t,
		clientTag: binary.BigEndian.Uint64(id[:8]),
		servers:   append([]string(nil), servers...),
	}
}

// SetServers updates the replica address list, e.g. after the shard
// controller reports a group's membership changed.
func (c *Clerk) SetServers(servers []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = append([]string(nil), servers...)
	c.leader = 0
}

func (c *Clerk) newRequestID() uint64 {
	return c.clientTag ^ atomic.AddUint64(&c.seq, 1)
}

// Call submits payload and blocks until it commits somewhere in the
// replica set, retrying on every server-unavailable outcome (not the
// leader, timed out, RPC failed) and jumping straight to a returned
// leader hint when one is given. It gives up only when ctx is done, the
// group reports WrongGroup, or no servers are configured.
func (c *Clerk) Call(ctx context.Context, payload []byte) ([]byte, error) {
	requestID := c.newRequestID()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		target, ok := c.currentTarget()
		if !ok {
			return nil, fmt.Errorf("clerk: no servers configured")
		}

		resp, err := c.transport.Submit(ctx, target, &transport.CommandRequest{
			RequestID: requestID,
			Payload:   payload,
		})
		if err != nil {
			c.advance()
			continue
		}

		switch resp.ErrorCode {
		case transport.ErrCodeOK:
			return resp.Payload, nil
		case transport.ErrCodeNotLeader:
			c.jumpToHint(resp.Hint)
		case transport.ErrCodeTimeout, transport.ErrCodeFailed:
			c.advance()
		case transport.ErrCodeWrongGroup:
			return nil, ErrWrongGroup
		case transport.ErrCodeWrongCfg:
			select {
			case <-time.After(wrongCfgBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			c.advance()
		}
	}
}

func (c *Clerk) currentTarget() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.servers) == 0 {
		return "", false
	}
	return c.servers[c.leader%len(c.servers)], true
}

func (c *Clerk) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.servers) > 0 {
		c.leader = (c.leader + 1) % len(c.servers)
	}
}

func (c *Clerk) jumpToHint(hint string) {
	if hint == "" {
		c.advance()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, addr := range c.servers {
		if addr == hint {
			c.leader = i
			return
		}
	}
}
