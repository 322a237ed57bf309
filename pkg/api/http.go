// Package api exposes the admin-visible HTTP status surface every
// replica process (shard controller and shard-store alike) serves
// alongside its gRPC wire port: a single /status endpoint reporting
// this replica's Raft role plus whatever domain-specific detail its
// caller wants attached (a shardctrler config sequence length, a
// shardkv GroupStatus).
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/tomasreyes/shardraft/pkg/raft"
)

// DetailFunc supplies the domain-specific portion of a /status response.
// Returning an error surfaces as a "detail_error" field rather than
// failing the whole request -- a replica's basic Raft status is always
// worth reporting even if, say, a ReadIndex barrier for the detail times
// out.
type DetailFunc func(ctx context.Context) (interface{}, error)

// Handler serves the status surface for one replica.
type Handler struct {
	engine *raft.Engine
	detail DetailFunc
	mux    *http.ServeMux
}

// NewHandler wires a status handler around engine. detail may be nil.
func NewHandler(engine *raft.Engine, detail DetailFunc) *Handler {
	h := &Handler{engine: engine, detail: detail, mux: http.NewServeMux()}
	h.mux.HandleFunc("/status", h.handleStatus)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	leaderID, term, isLeader := h.engine.Status()

	heartbeat, err := protojson.Marshal(timestamppb.New(h.engine.LastHeartbeat()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"node_id":        h.engine.NodeID(),
		"term":           term,
		"is_leader":      isLeader,
		"leader_id":      leaderID,
		"last_heartbeat": json.RawMessage(heartbeat),
	}

	if h.detail != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		detail, err := h.detail(ctx)
		if err != nil {
			status["detail_error"] = err.Error()
		} else {
			status["detail"] = detail
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
