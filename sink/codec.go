package sink

import (
	"google.golang.org/grpc/encoding"

	"github.com/ledgermesh/blockcoord/jsonx"
)

// codecName is the gRPC content-subtype this package's messages are
// carried under. The repo carries no .proto-generated stubs, so
// requests are encoded with the same jsonx codec the rest of the node
// uses for persistence, registered as a grpc encoding.Codec instead of
// hand-written protobuf marshalling.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return jsonx.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return jsonx.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
