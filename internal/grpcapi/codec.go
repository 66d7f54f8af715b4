// Package grpcapi is the binary RPC transport of spec.md §6, the gRPC
// sibling of internal/httpapi. It implements the same eleven operations
// over google.golang.org/grpc without any protoc-generated stubs: the
// retrieved pack carries no .proto/generated code for this domain (the
// teacher's own internal/grpc/server.go imports a novapb package that is
// itself absent), so every request/response is a hand-written Go struct
// exchanged through a JSON wire codec instead of protobuf wire format.
package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec over plain
// Go structs. grpc-go's Codec interface only needs Marshal/Unmarshal on
// an opaque interface{}, so it never requires a proto.Message - this is
// the same "bring your own wire format" extension point the library
// documents for non-protobuf payloads.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
