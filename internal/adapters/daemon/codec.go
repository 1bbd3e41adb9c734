// Package daemon hosts the worker daemon's moving parts: the stage
// runners that lease queue work, startup recovery, the run logger, and
// the unix-socket gRPC service the CLI talks to. The service has no
// generated protobuf stubs; requests and responses are plain structs
// carried by a msgpack codec over a hand-written service descriptor.
package daemon

import (
	"github.com/vmihailenco/msgpack/v5"
)

// codecName is the content subtype negotiated between daemon and CLI
const codecName = "msgpack"

// msgpackCodec encodes RPC messages with msgpack instead of protobuf.
// Both ends of the socket are this repo's binaries, so the codec only
// has to agree with itself.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return codecName
}
