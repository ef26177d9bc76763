package domain

// RpcMode selects the executor's submission path. Owned by the executor,
// never persisted.
type RpcMode string

// Submission modes
const (
	RpcModePrimary  RpcMode = "primary_bundle"  // bundle path through relays
	RpcModeFallback RpcMode = "fallback_direct" // direct submission only
)

// RpcHealth is the latest primary-path health probe result.
type RpcHealth struct {
	Healthy   bool
	LatencyMs int64
	CheckedAt int64 // ms
}
