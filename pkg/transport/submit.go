package transport

// CommandRequest is the single generic RPC request type shared by every
// ReplicatedService: shard-controller Join/Leave/Move/Query, every
// shard-store group's client commands, and cross-group PutShard/DelShard
// migration calls -- all of them are just "submit this opaque command
// under this request id" against whichever service is listening.
type CommandRequest struct {
	RequestID uint64
	Payload   []byte
}

// CommandResponse carries the application output plus a small,
// transport-level error taxonomy so callers can distinguish "retry the
// hinted leader" (NotLeader, with Hint) from "retry the next node"
// (Timeout/Failed) from "retry the same node after a backoff" (WrongCfg)
// from "stop, this group doesn't own the shard" (WrongGroup) without
// parsing error strings.
type CommandResponse struct {
	Payload   []byte
	ErrorCode ErrorCode
	Hint      string
}

// ErrorCode is the small taxonomy every client-facing failure fits into,
// letting clerks decide retry-same-node vs retry-elsewhere vs don't-retry
// without parsing error strings.
type ErrorCode string

const (
	ErrCodeOK         ErrorCode = ""
	ErrCodeNotLeader  ErrorCode = "not_leader"
	ErrCodeTimeout    ErrorCode = "timeout"
	ErrCodeFailed     ErrorCode = "failed"
	ErrCodeWrongGroup ErrorCode = "wrong_group"
	ErrCodeWrongCfg   ErrorCode = "wrong_cfg"
)
