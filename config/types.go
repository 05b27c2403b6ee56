package config

// NodeConfig identifies a peer in the Block Sink's transmission set.
type NodeConfig struct {
	Identity string `yaml:"identity"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// GenesisBlock describes the chain's genesis block, the sentinel every
// fresh Storage Unit and Main Chain bootstraps from.
type GenesisBlock struct {
	MerkleRoot     string `yaml:"merkle_root"`
	DifficultyBits int    `yaml:"difficulty_bits"`
}

// SelfNodeConfig is this node's own identity and key material.
type SelfNodeConfig struct {
	Identity    string `yaml:"identity"`
	PrivKeyPath string `yaml:"privkey_path"`
}

// GenesisConfig holds the configuration loaded from genesis.yml: this
// node's identity, the peers the Block Sink transmits mined blocks to,
// and the genesis block the Main Chain and Storage Unit bootstrap from.
type GenesisConfig struct {
	SelfNode  SelfNodeConfig `yaml:"self_node"`
	PeerNodes []NodeConfig   `yaml:"peer_nodes"`
	Genesis   GenesisBlock   `yaml:"genesis"`
}

// ConfigFile is the top-level structure of genesis.yml.
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}
