// Command shardctrlerd boots one replica of the shard controller group.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tomasreyes/shardraft/pkg/api"
	"github.com/tomasreyes/shardraft/pkg/raft"
	"github.com/tomasreyes/shardraft/pkg/service"
	"github.com/tomasreyes/shardraft/pkg/shardctrler"
	"github.com/tomasreyes/shardraft/pkg/transport"
)

func main() {
	nodeID := flag.String("id", "", "node ID")
	addr := flag.String("addr", "", "gRPC listen address (e.g., localhost:6000)")
	httpAddr := flag.String("http", "", "admin HTTP listen address (e.g., localhost:9000)")
	peers := flag.String("peers", "", "comma-separated peer list (id1=addr1,id2=addr2)")
	dataDir := flag.String("data", "", "data directory")
	maxRaftState := flag.Int("max-raft-state", -1, "snapshot once the log exceeds this many entries (<=0 disables)")
	flag.Parse()

	if *nodeID == "" || *addr == "" || *httpAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	allAddrs, raftPeers, peerIDs := parsePeers(*peers, *nodeID, *addr)

	dir := *dataDir
	if dir == "" {
		dir = fmt.Sprintf("/tmp/shardctrler-%s", *nodeID)
	}

	log.Printf("starting shard controller replica %s", *nodeID)
	log.Printf("gRPC address: %s, admin HTTP: %s, peers: %v", *addr, *httpAddr, peerIDs)

	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", *nodeID), log.LstdFlags)

	cfg := raft.DefaultConfig(*nodeID)
	cfg.Peers = raftPeers
	cfg.DataDir = dir

	grpcTransport := transport.NewGRPCTransport(*addr)

	applyCh := make(chan raft.ApplyMsg, 256)
	engine, err := raft.New(cfg, grpcTransport, applyCh, logger)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	grpcTransport.SetRaftHandler(engine)

	machine := shardctrler.NewMachine()
	svc := service.New[*shardctrler.Machine](engine, machine, applyCh, *maxRaftState, logger)
	grpcTransport.SetSubmitHandler(submitHandler{svc: svc, peerAddrs: allAddrs})

	svc.Start()

	go func() {
		if err := grpcTransport.Serve(); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	detail := func(ctx context.Context) (interface{}, error) {
		var cfg shardctrler.Config
		var numConfigs int
		err := svc.ReadOnly(ctx, func(m *shardctrler.Machine) {
			cfg, numConfigs = m.QueryForStatus()
		})
		return map[string]interface{}{"latest_config": cfg, "num_configs": numConfigs}, err
	}
	httpServer := &http.Server{Addr: *httpAddr, Handler: api.NewHandler(engine, detail)}
	go func() {
		log.Printf("admin HTTP listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	svc.Stop()
	grpcTransport.Stop()
	log.Println("shutdown complete")
}

type submitHandler struct {
	svc       *service.Service[*shardctrler.Machine]
	peerAddrs map[string]string
}

func (h submitHandler) HandleSubmit(ctx context.Context, req *transport.CommandRequest) *transport.CommandResponse {
	out, err := h.svc.Call(ctx, req.RequestID, req.Payload)
	if err == nil {
		return &transport.CommandResponse{Payload: out}
	}
	code, hint := shardctrler.ClassifyError(err)
	return &transport.CommandResponse{ErrorCode: code, Hint: h.peerAddrs[hint]}
}

// parsePeers returns: every known node's address (including self, for
// translating a NotLeaderError hint into a dial target), the raft.Config
// peer map (excludes self, as raft.Config.Peers requires), and the list
// of peer ids alone (for logging).
func parsePeers(peers, selfID, selfAddr string) (all, raftPeers map[string]string, ids []string) {
	all = make(map[string]string)
	raftPeers = make(map[string]string)
	if peers != "" {
		for _, peer := range strings.Split(peers, ",") {
			parts := strings.SplitN(peer, "=", 2)
			if len(parts) != 2 {
				continue
			}
			all[parts[0]] = parts[1]
			if parts[0] != selfID {
				raftPeers[parts[0]] = parts[1]
				ids = append(ids, parts[0])
			}
		}
	}
	all[selfID] = selfAddr
	return all, raftPeers, ids
}
