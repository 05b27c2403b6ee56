package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgermesh/blockcoord/chain"
	"github.com/ledgermesh/blockcoord/config"
	"github.com/ledgermesh/blockcoord/coordinator"
	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/exception"
	"github.com/ledgermesh/blockcoord/executor"
	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/monitoring"
	"github.com/ledgermesh/blockcoord/packer"
	"github.com/ledgermesh/blockcoord/proofengine"
	"github.com/ledgermesh/blockcoord/sink"
	"github.com/ledgermesh/blockcoord/statuscache"
	"github.com/ledgermesh/blockcoord/storageunit"
	"github.com/ledgermesh/blockcoord/types"
)

var (
	nodeName    string
	dataDir     string
	listenAddr  string
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Block Coordinator node",
	Run: func(cmd *cobra.Command, args []string) {
		runNode(nodeName)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&nodeName, "node", "n", "node1", "The node config set to load (config/genesis.<node>.yml, config/tuning.<node>.ini)")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for the node's LevelDB store (defaults to data/<node>)")
	runCmd.Flags().StringVar(&listenAddr, "listen", ":7070", "Address the Block Sink's inbound gRPC server binds to")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address the Prometheus /metrics handler binds to")
}

func runNode(node string) {
	dir := dataDir
	if dir == "" {
		dir = filepath.Join("data", node)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logx.Error("CMD", "failed to create data directory", dir, "error:", err)
		os.Exit(1)
	}

	genesisCfg, err := config.LoadGenesisConfig(fmt.Sprintf("config/genesis.%s.yml", node))
	if err != nil {
		logx.Error("CMD", "load genesis config:", err)
		os.Exit(1)
	}
	coordCfg, err := config.LoadCoordinatorConfig(fmt.Sprintf("config/tuning.%s.ini", node))
	if err != nil {
		logx.Warn("CMD", "no coordinator tuning found, using defaults:", err)
		coordCfg = &config.CoordinatorConfig{
			DriveIntervalMs: config.DefaultDriveIntervalMs,
			BlockPeriodMs:   config.DefaultBlockPeriodMs,
		}
	}
	execCfg, err := config.LoadExecutorConfig(fmt.Sprintf("config/tuning.%s.ini", node))
	if err != nil {
		logx.Warn("CMD", "no executor tuning found, using defaults:", err)
		execCfg = &config.ExecutorConfig{WorkerCount: config.DefaultExecutorWorkerCount}
	}
	packCfg, err := config.LoadPackerConfig(fmt.Sprintf("config/tuning.%s.ini", node))
	if err != nil {
		logx.Warn("CMD", "no packer tuning found, using defaults:", err)
		packCfg = &config.PackerConfig{
			MaxSliceLen:  config.DefaultMaxSliceLen,
			MaxSlices:    config.DefaultMaxSlices,
			Log2NumLanes: config.DefaultLog2NumLanes,
		}
	}

	identity, err := identityFromHex(genesisCfg.SelfNode.Identity)
	if err != nil {
		logx.Error("CMD", "parse self identity:", err)
		os.Exit(1)
	}
	privKey, err := config.LoadEd25519PrivKey(genesisCfg.SelfNode.PrivKeyPath)
	if err != nil {
		logx.Warn("CMD", "no mining key loaded, node will run sync-only:", err)
	}

	provider, err := db.NewLevelDBProvider(dir)
	if err != nil {
		logx.Error("CMD", "open leveldb at", dir, "error:", err)
		os.Exit(1)
	}

	genesisRoot := genesisMerkleRoot(genesisCfg)
	genesisBlock := &types.Block{
		BlockNumber:  0,
		MerkleHash:   genesisRoot,
		Log2NumLanes: uint8(packCfg.Log2NumLanes),
	}

	ch, err := chain.New(provider, genesisBlock)
	if err != nil {
		logx.Error("CMD", "init chain:", err)
		os.Exit(1)
	}
	su, err := storageunit.New(provider, genesisRoot)
	if err != nil {
		logx.Error("CMD", "init storage unit:", err)
		os.Exit(1)
	}
	statusCache := statuscache.New(provider)

	execMgr := executor.New(su, execCfg.WorkerCount)

	pool := packer.NewPool()
	pack := packer.New(pool, packCfg.MaxSliceLen)

	proofEngine := proofengine.New()

	peers := make([]string, 0, len(genesisCfg.PeerNodes))
	for _, peer := range genesisCfg.PeerNodes {
		peers = append(peers, peer.GRPCAddr)
	}
	blockSink := sink.NewGRPCSink(peers, 5*time.Second)

	monitoring.InitMetrics()

	cfg := coordinator.Config{
		Identity:        identity,
		BlockDifficulty: targetFromDifficultyBits(genesisCfg.Genesis.DifficultyBits),
		Log2NumLanes:    uint8(packCfg.Log2NumLanes),
		NumSlices:       packCfg.MaxSlices,
		BlockPeriod:     time.Duration(coordCfg.BlockPeriodMs) * time.Millisecond,
		Mining:          privKey != nil,
		MiningEnabled:   privKey != nil,
	}
	coord := coordinator.New(ch, su, execMgr, pack, proofEngine, blockSink, statusCache, cfg)

	grpcServer := sink.NewServer(func(ctx context.Context, block *types.Block) error {
		result := ch.AddBlock(block)
		logx.Info("CMD", "received transmitted block", block.Hash, "result:", result)
		return nil
	})
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logx.Error("CMD", "listen on", listenAddr, "error:", err)
		os.Exit(1)
	}
	exception.SafeGoWithPanic("sink-server", func() {
		if err := grpcServer.Serve(lis); err != nil {
			logx.Error("CMD", "sink server stopped:", err)
		}
	})

	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)
	exception.SafeGo("metrics-server", func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logx.Error("CMD", "metrics server stopped:", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	logx.Info("CMD", "node", node, "identity", identity.String(), "listening on", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logx.Info("CMD", "shutdown signal received, stopping node", node)
	cancel()
	coord.Stop()
	grpcServer.GracefulStop()
}

func identityFromHex(s string) (types.Identity, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Identity{}, fmt.Errorf("invalid identity hex: %w", err)
	}
	return types.IdentityFromBytes(b)
}

func genesisMerkleRoot(cfg *config.GenesisConfig) types.Digest {
	if cfg.Genesis.MerkleRoot == "" {
		return types.GenesisMerkleRoot
	}
	d, err := types.DigestFromHex(cfg.Genesis.MerkleRoot)
	if err != nil {
		logx.Warn("CMD", "invalid genesis merkle root, falling back to the empty-state root:", err)
		return types.GenesisMerkleRoot
	}
	return d
}

// targetFromDifficultyBits builds a proof-of-work target whose leading
// difficultyBits bits are zero and every bit after that is one: the
// conventional big-endian proof-of-work threshold, harder as
// difficultyBits grows.
func targetFromDifficultyBits(difficultyBits int) types.Digest {
	var target types.Digest
	if difficultyBits <= 0 {
		for i := range target {
			target[i] = 0xff
		}
		return target
	}
	total := len(target) * 8
	if difficultyBits > total {
		difficultyBits = total
	}
	zeroBytes := difficultyBits / 8
	remBits := difficultyBits % 8
	for i := zeroBytes; i < len(target); i++ {
		target[i] = 0xff
	}
	if zeroBytes < len(target) && remBits > 0 {
		target[zeroBytes] = byte(0xff >> uint(remBits))
	}
	return target
}
