// Package sink implements the Block Sink: outbound publication of
// newly mined blocks (spec §6), the one networking concern the
// coordinator's Non-goals carve out an exception for (spec §1).
package sink

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/types"
)

// Sink is the Block Sink collaborator.
type Sink interface {
	Transmit(ctx context.Context, block *types.Block) error
}

// TransmitRequest is the Sink's single RPC request message.
type TransmitRequest struct {
	Block *types.Block `json:"block"`
}

// TransmitResponse is the Sink's single RPC response message.
type TransmitResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

const transmitMethod = "/blockcoord.sink.Sink/Transmit"

// GRPCSink fans a mined block out to every configured peer over gRPC,
// grounded on network.GRPCClient's per-peer dial-and-call loop, but
// carrying jsonCodec-encoded messages instead of generated protobuf.
type GRPCSink struct {
	peers   []string
	opts    []grpc.DialOption
	timeout time.Duration
}

// NewGRPCSink creates a Sink that transmits to peers, each call bounded
// by timeout.
func NewGRPCSink(peers []string, timeout time.Duration) *GRPCSink {
	return &GRPCSink{
		peers: peers,
		opts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		},
		timeout: timeout,
	}
}

// Transmit sends block to every peer. Per-peer failures are logged and
// swallowed (spec §4.1 TRANSMIT_BLOCK: "Any error is logged and
// swallowed"). Peers are called one after another, each call bounded by
// the sink's timeout, and Transmit returns once every peer has been tried.
func (s *GRPCSink) Transmit(ctx context.Context, block *types.Block) error {
	for _, addr := range s.peers {
		if err := s.transmitTo(ctx, addr, block); err != nil {
			logx.Error("SINK", "transmit to", addr, "failed:", err)
		}
	}
	return nil
}

func (s *GRPCSink) transmitTo(ctx context.Context, addr string, block *types.Block) error {
	conn, err := grpc.NewClient(addr, s.opts...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	rpcCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := &TransmitRequest{Block: block}
	resp := &TransmitResponse{}
	if err := conn.Invoke(rpcCtx, transmitMethod, req, resp); err != nil {
		return fmt.Errorf("invoke %s: %w", addr, err)
	}
	if !resp.OK {
		return fmt.Errorf("peer %s rejected block: %s", addr, resp.Error)
	}
	return nil
}
