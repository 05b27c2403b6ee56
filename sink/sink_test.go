package sink

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ledgermesh/blockcoord/types"
)

func startTestServer(t *testing.T, recv Receiver) string {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(recv)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestTransmitDeliversBlock(t *testing.T) {
	var mu sync.Mutex
	var received *types.Block

	addr := startTestServer(t, func(ctx context.Context, block *types.Block) error {
		mu.Lock()
		received = block
		mu.Unlock()
		return nil
	})

	s := NewGRPCSink([]string{addr}, 2*time.Second)
	blk := &types.Block{BlockNumber: 7, Hash: types.Digest{0x42}}

	if err := s.Transmit(context.Background(), blk); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := received
		mu.Unlock()
		if got != nil {
			if got.BlockNumber != 7 {
				t.Fatalf("expected block_number 7, got %d", got.BlockNumber)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for block to be received")
}

func TestTransmitSwallowsUnreachablePeer(t *testing.T) {
	s := NewGRPCSink([]string{"127.0.0.1:1"}, 200*time.Millisecond)
	blk := &types.Block{BlockNumber: 1}

	if err := s.Transmit(context.Background(), blk); err != nil {
		t.Fatalf("expected Transmit to swallow per-peer errors, got %v", err)
	}
}
