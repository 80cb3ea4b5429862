// Package config resolves codestory's CLI and repository configuration.
package config

// Chunking level names, accepted by --chunking-level and chunking.level.
const (
	ChunkingLevelNone      = "none"
	ChunkingLevelFullFiles = "full_files"
	ChunkingLevelAllFiles  = "all_files"
)

// Fallback grouping strategy names, accepted by --fallback-grouping-strategy.
const (
	FallbackGroupingByExtension = "by_extension"
	FallbackGroupingByFile      = "by_file"
	FallbackGroupingAllTogether = "all_together"
)

// Secret scanner aggression levels, accepted by --secret-scanner-aggression.
const (
	SecretAggressionSafe     = "safe"
	SecretAggressionStandard = "standard"
	SecretAggressionParanoid = "paranoid"
)

// Batching strategy names, accepted by --batching-strategy.
const (
	BatchingStrategyAuto     = "auto"
	BatchingStrategyRequests = "requests"
	BatchingStrategyPrompt   = "prompt"
)

// Diff display types, accepted by --display-diff-type.
const (
	DisplayDiffUnified = "unified"
	DisplayDiffNone    = "none"
)
