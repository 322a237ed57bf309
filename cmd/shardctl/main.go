// Command shardctl is the cluster operator's admin CLI against the shard
// controller: join/leave/move the cluster's replica groups and query the
// configuration sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tomasreyes/shardraft/pkg/clerk"
	"github.com/tomasreyes/shardraft/pkg/shardctrler"
	"github.com/tomasreyes/shardraft/pkg/transport"
)

const callTimeout = 5 * time.Second

func main() {
	servers := flag.String("controllers", "", "comma-separated shard controller addresses")
	flag.Parse()

	args := flag.Args()
	if *servers == "" || len(args) == 0 {
		usage()
		os.Exit(1)
	}

	t := transport.NewGRPCTransport("") // client-only: never calls Serve
	c := shardctrler.NewClerk(clerk.New(t, strings.Split(*servers, ",")))

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var err error
	switch args[0] {
	case "join":
		err = runJoin(ctx, c, args[1:])
	case "leave":
		err = runLeave(ctx, c, args[1:])
	case "move":
		err = runMove(ctx, c, args[1:])
	case "query":
		err = runQuery(ctx, c, args[1:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "shardctl: %v\n", err)
		os.Exit(1)
	}
}

// runJoin takes pairs of "gid=addr1;addr2;...".
func runJoin(ctx context.Context, c *shardctrler.Clerk, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("join requires at least one gid=addr1;addr2;... argument")
	}
	servers := make(map[int][]string, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed join argument %q", arg)
		}
		gid, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("malformed gid in %q: %w", arg, err)
		}
		servers[gid] = strings.Split(parts[1], ";")
	}
	return c.Join(ctx, servers)
}

func runLeave(ctx context.Context, c *shardctrler.Clerk, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("leave requires at least one gid argument")
	}
	gids := make([]int, 0, len(args))
	for _, arg := range args {
		gid, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("malformed gid %q: %w", arg, err)
		}
		gids = append(gids, gid)
	}
	return c.Leave(ctx, gids)
}

func runMove(ctx context.Context, c *shardctrler.Clerk, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("move requires exactly two arguments: shard gid")
	}
	shard, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("malformed shard %q: %w", args[0], err)
	}
	gid, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("malformed gid %q: %w", args[1], err)
	}
	return c.Move(ctx, shard, gid)
}

func runQuery(ctx context.Context, c *shardctrler.Clerk, args []string) error {
	num := -1
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("malformed config number %q: %w", args[0], err)
		}
		num = n
	}
	cfg, err := c.Query(ctx, num)
	if err != nil {
		return err
	}
	fmt.Printf("config %d\n", cfg.Num)
	fmt.Printf("shards: %v\n", cfg.Shards)
	fmt.Println("groups:")
	for gid, addrs := range cfg.Groups {
		fmt.Printf("  %d: %v\n", gid, addrs)
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: shardctl -controllers addr1,addr2,... <command> [args]

commands:
  join gid=addr1;addr2;... [gid=addr1;addr2;... ...]
  leave gid [gid ...]
  move shard gid
  query [num]`)
}
