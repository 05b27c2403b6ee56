package sink

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ledgermesh/blockcoord/types"
)

// Receiver handles a block transmitted by a peer's Sink.
type Receiver func(ctx context.Context, block *types.Block) error

type sinkServerIface interface {
	transmit(ctx context.Context, req *TransmitRequest) (*TransmitResponse, error)
}

type sinkServer struct {
	recv Receiver
}

func (s *sinkServer) transmit(ctx context.Context, req *TransmitRequest) (*TransmitResponse, error) {
	if err := s.recv(ctx, req.Block); err != nil {
		return &TransmitResponse{OK: false, Error: err.Error()}, nil
	}
	return &TransmitResponse{OK: true}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "blockcoord.sink.Sink",
	HandlerType: (*sinkServerIface)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Transmit",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(TransmitRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(sinkServerIface).transmit(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: transmitMethod}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(sinkServerIface).transmit(ctx, req.(*TransmitRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sink.proto",
}

// NewServer builds a gRPC server exposing the Sink service, backed by
// recv for each transmitted block. The repo carries no protoc-generated
// stubs, so the service descriptor is hand-assembled against the
// jsonCodec registered in codec.go rather than generated code.
func NewServer(recv Receiver) *grpc.Server {
	srv := grpc.NewServer()
	srv.RegisterService(&serviceDesc, &sinkServer{recv: recv})
	return srv
}
