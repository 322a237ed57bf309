package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tomasreyes/shardraft/pkg/raft"
)

// RaftHandler is implemented by *raft.Engine; it is what the server side
// of GRPCTransport dispatches incoming peer RPCs to.
type RaftHandler interface {
	HandleRequestVote(*raft.RequestVoteRequest) *raft.RequestVoteResponse
	HandleAppendEntries(*raft.AppendEntriesRequest) *raft.AppendEntriesResponse
	HandleInstallSnapshot(*raft.InstallSnapshotRequest) *raft.InstallSnapshotResponse
}

// SubmitHandler is implemented by whatever wraps a pkg/service.Service
// for a given process (shard controller or one shard-store group) to
// accept generic commands over the wire.
type SubmitHandler interface {
	HandleSubmit(ctx context.Context, req *CommandRequest) *CommandResponse
}

// GRPCTransport is both the server (hosting one replica's Raft RPCs and
// Submit RPC over a single grpc.Server) and the client (dialing peers
// and other replica groups) side of the wire layer. Wire encryption is
// out of scope, so it always uses insecure transport credentials.
type GRPCTransport struct {
	listenAddr string
	server     *grpc.Server

	raftHandler   RaftHandler
	submitHandler SubmitHandler

	connsMu sync.Mutex
	conns   map[string]*grpc.ClientConn
}

// NewGRPCTransport creates a transport that will listen on listenAddr
// once Serve is called. Handlers are registered separately (via
// SetRaftHandler / SetSubmitHandler) once the engine/service they front
// has been constructed -- the transport necessarily exists before its
// own engine does, since the engine's constructor takes a Transport.
func NewGRPCTransport(listenAddr string) *GRPCTransport {
	t := &GRPCTransport{
		listenAddr: listenAddr,
		conns:      make(map[string]*grpc.ClientConn),
	}
	t.server = grpc.NewServer(grpc.ForceServerCodec(gobCodec{}))
	t.server.RegisterService(&serviceDesc, t)
	return t
}

// SetRaftHandler wires the Raft engine the server side dispatches peer
// RPCs to.
func (t *GRPCTransport) SetRaftHandler(h RaftHandler) { t.raftHandler = h }

// SetSubmitHandler wires the ReplicatedService the server side dispatches
// Submit RPCs to.
func (t *GRPCTransport) SetSubmitHandler(h SubmitHandler) { t.submitHandler = h }

// Serve starts accepting connections. It blocks until the listener is
// closed or the server is stopped.
func (t *GRPCTransport) Serve() error {
	lis, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", t.listenAddr, err)
	}
	return t.server.Serve(lis)
}

// Stop gracefully stops the server and closes all client connections.
func (t *GRPCTransport) Stop() {
	t.server.GracefulStop()

	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
}

func (t *GRPCTransport) dial(target string) (*grpc.ClientConn, error) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	if conn, ok := t.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.Dial(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(gobCodecName)),
	)
	if err != nil {
		return nil, err
	}
	t.conns[target] = conn
	return conn, nil
}

const (
	serviceName           = "shardraft.Peer"
	methodRequestVote     = "RequestVote"
	methodAppendEntries   = "AppendEntries"
	methodInstallSnapshot = "InstallSnapshot"
	methodSubmit          = "Submit"
)

func (t *GRPCTransport) invoke(ctx context.Context, target, method string, req, resp interface{}) error {
	conn, err := t.dial(target)
	if err != nil {
		return err
	}
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	return conn.Invoke(ctx, fullMethod, req, resp)
}

// RequestVote implements raft.Transport.
func (t *GRPCTransport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	resp := new(raft.RequestVoteResponse)
	if err := t.invoke(ctx, target, methodRequestVote, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AppendEntries implements raft.Transport.
func (t *GRPCTransport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	resp := new(raft.AppendEntriesResponse)
	if err := t.invoke(ctx, target, methodAppendEntries, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// InstallSnapshot implements raft.Transport.
func (t *GRPCTransport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	resp := new(raft.InstallSnapshotResponse)
	if err := t.invoke(ctx, target, methodInstallSnapshot, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Submit calls the generic Submit RPC on target -- used by clerks
// talking to a replica group, and by a shard-store group migrating
// shards into/out of a sibling group.
func (t *GRPCTransport) Submit(ctx context.Context, target string, req *CommandRequest) (*CommandResponse, error) {
	resp := new(CommandResponse)
	if err := t.invoke(ctx, target, methodSubmit, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- server-side dispatch (hand-written in place of protoc-gen-go-grpc output) ---

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(raft.RequestVoteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*GRPCTransport).raftHandler.HandleRequestVote(req), nil
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(raft.AppendEntriesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*GRPCTransport).raftHandler.HandleAppendEntries(req), nil
}

func installSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(raft.InstallSnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*GRPCTransport).raftHandler.HandleInstallSnapshot(req), nil
}

func submitHandlerFunc(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CommandRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	t := srv.(*GRPCTransport)
	if t.submitHandler == nil {
		return &CommandResponse{ErrorCode: ErrCodeFailed}, nil
	}
	return t.submitHandler.HandleSubmit(ctx, req), nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GRPCTransport)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodRequestVote, Handler: requestVoteHandler},
		{MethodName: methodAppendEntries, Handler: appendEntriesHandler},
		{MethodName: methodInstallSnapshot, Handler: installSnapshotHandler},
		{MethodName: methodSubmit, Handler: submitHandlerFunc},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shardraft.proto",
}
