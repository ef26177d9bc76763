package domain

// Audit keys identify the class of operational change.
const (
	AuditKeyRpcMode        = "rpc_mode"
	AuditKeyCircuitBreaker = "circuit_breaker"
	AuditKeyRecovery       = "trade_recovery"
	AuditKeyDeadLetter     = "dead_letter"
)

// AuditEntry is an append-only record of an operational state change.
type AuditEntry struct {
	ID        string // uuid
	Key       string // audit key constant
	OldValue  string
	NewValue  string
	Actor     string // "system" or operator principal
	Reason    string // free text
	CreatedAt int64  // ms
}

// ActorSystem is the actor recorded for changes the engine makes on its own.
const ActorSystem = "system"
