// Package transport implements the wire layer shared by every replica:
// the Raft peer RPCs (RequestVote/AppendEntries/InstallSnapshot) and the
// one generic Submit RPC that every pkg/service.Service (shard controller,
// each shard-store group) exposes to its clerks and to cross-group shard
// migration calls. Rather than hand-authoring protoc-generated message
// types -- too easy to get subtly wrong without a toolchain run to check
// it against -- plain Go structs ride over grpc via a small registered
// "gob" codec, so the project still depends on and exercises the real
// google.golang.org/grpc stack end to end.
package transport

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

const gobCodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements grpc/encoding.Codec by gob-encoding whatever struct
// it is handed. It is registered under the name "gob" and selected by
// clients via grpc.CallContentSubtype(gobCodecName) and by servers via
// grpc.ForceServerCodec(gobCodec{}).
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return gobCodecName }
