package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/tomasreyes/shardraft/pkg/raft"
	"github.com/tomasreyes/shardraft/pkg/transport"
)

func newSingleNodeEngine(t *testing.T) *raft.Engine {
	t.Helper()
	dir := t.TempDir()
	net := transport.NewNetwork(0, 0, 0, 1)
	lt := transport.NewLocalTransport(net, "n1")

	cfg := raft.DefaultConfig("n1")
	cfg.DataDir = dir
	cfg.ElectionTimeout = 20 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond

	applyCh := make(chan raft.ApplyMsg, 16)
	logger := log.New(os.Stderr, "", 0)
	engine, err := raft.New(cfg, lt, applyCh, logger)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	lt.SetRaftHandler(engine)
	engine.Start()
	t.Cleanup(engine.Stop)
	return engine
}

func waitForLeader(t *testing.T, engine *raft.Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if engine.IsLeader() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine never became leader (single-node cluster should always win its own election)")
}

func TestStatusReportsRaftState(t *testing.T) {
	engine := newSingleNodeEngine(t)
	waitForLeader(t, engine)

	h := NewHandler(engine, nil)
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["node_id"] != "n1" {
		t.Fatalf("expected node_id n1, got %v", body["node_id"])
	}
	if body["is_leader"] != true {
		t.Fatalf("expected is_leader true, got %v", body["is_leader"])
	}
	if _, ok := body["last_heartbeat"]; !ok {
		t.Fatal("expected a last_heartbeat field")
	}
}

func TestStatusAttachesDetail(t *testing.T) {
	engine := newSingleNodeEngine(t)

	h := NewHandler(engine, func(ctx context.Context) (interface{}, error) {
		return map[string]string{"hello": "world"}, nil
	})
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	detail, ok := body["detail"].(map[string]interface{})
	if !ok || detail["hello"] != "world" {
		t.Fatalf("expected detail.hello == world, got %v", body["detail"])
	}
}

func TestStatusReportsDetailError(t *testing.T) {
	engine := newSingleNodeEngine(t)

	h := NewHandler(engine, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["detail_error"] != "boom" {
		t.Fatalf("expected detail_error boom, got %v", body["detail_error"])
	}
	if _, ok := body["detail"]; ok {
		t.Fatal("detail should be absent when detail_error is set")
	}
}
