package config

// Default tuning values, used when a section is absent from tuning.ini.
const (
	DefaultDriveIntervalMs  = 50
	DefaultBlockPeriodMs    = 2000
	DefaultSyncPollInterval = 250

	DefaultExecutorWorkerCount = 8
	DefaultExecutorQueueDepth  = 256

	DefaultMaxSliceLen  = 512
	DefaultMaxSlices    = 16
	DefaultLog2NumLanes = 4

	// ProofSearchIterations bounds how many nonces the Proof Engine tries
	// per PROOF_SEARCH drive, keeping the coordinator's loop responsive.
	ProofSearchIterations = 100
)

// GenesisMerkleRootHex is the hex form of the well-known merkle root of
// the empty state (types.GenesisMerkleRoot, which runNode falls back to
// when a genesis.yml omits config.genesis.merkle_root).
const GenesisMerkleRootHex = "0000000000000000000000000000000000000000000000000000000000000000"
