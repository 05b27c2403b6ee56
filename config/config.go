package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"io/ioutil"
	"os"

	"github.com/ledgermesh/blockcoord/logx"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadGenesisConfig reads and parses genesis.yml: this node's identity,
// its peer set for the Block Sink, and the genesis block the Main Chain
// and Storage Unit bootstrap from.
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		logx.Error("config", "failed to open genesis file:", err)
		return nil, err
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		logx.Error("config", "failed to decode genesis yaml:", err)
		return nil, err
	}
	logx.Info("config", "loaded genesis config: self=", cfgFile.Config.SelfNode.Identity, "peers=", len(cfgFile.Config.PeerNodes))
	return &cfgFile.Config, nil
}

// LoadEd25519PrivKey loads an Ed25519 private key from a file (hex encoded).
// The node runs as a miner only when a key is loaded; blocks are not signed
// with it.
func LoadEd25519PrivKey(path string) (ed25519.PrivateKey, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, err
	}
	return ed25519.PrivateKey(key), nil
}

// CoordinatorConfig tunes the Block Coordinator's driver loop: how often
// it is driven when idle, and the target spacing between mined blocks.
type CoordinatorConfig struct {
	DriveIntervalMs  int `ini:"drive_interval_ms"`
	BlockPeriodMs    int `ini:"block_period_ms"`
	SyncPollInterval int `ini:"sync_poll_interval_ms"`
}

// ExecutorConfig tunes the Execution Manager's worker pool.
type ExecutorConfig struct {
	WorkerCount  int `ini:"worker_count"`
	QueueDepth   int `ini:"queue_depth"`
}

// PackerConfig tunes the Block Packer's slice construction.
type PackerConfig struct {
	MaxSliceLen   int `ini:"max_slice_len"`
	MaxSlices     int `ini:"max_slices"`
	Log2NumLanes  int `ini:"log2_num_lanes"`
}

// LoadCoordinatorConfig reads the [coordinator] section of tuning.ini.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	out := &CoordinatorConfig{}
	if err := cfg.Section("coordinator").MapTo(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadExecutorConfig reads the [executor] section of tuning.ini.
func LoadExecutorConfig(path string) (*ExecutorConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	out := &ExecutorConfig{}
	if err := cfg.Section("executor").MapTo(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadPackerConfig reads the [packer] section of tuning.ini.
func LoadPackerConfig(path string) (*PackerConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	out := &PackerConfig{}
	if err := cfg.Section("packer").MapTo(out); err != nil {
		return nil, err
	}
	return out, nil
}
