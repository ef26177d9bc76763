package solana

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// Blockhash is a recent blockhash with its expiry height.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// TokenAmount is an SPL token balance in base units.
type TokenAmount struct {
	Amount   uint64
	Decimals int
}

// TxOutcome classifies the ground-truth state of a submitted transaction.
type TxOutcome int

const (
	// OutcomeIndeterminate means the query itself failed; the transaction
	// may or may not have landed. Never coerced to either extreme.
	OutcomeIndeterminate TxOutcome = iota

	// OutcomeConfirmed means the transaction landed and executed without error.
	OutcomeConfirmed

	// OutcomeFailedOnChain means the transaction landed but the program
	// errored, so its effects did not apply.
	OutcomeFailedOnChain

	// OutcomeNotFound means the node has no record of the signature.
	OutcomeNotFound
)

func (o TxOutcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailedOnChain:
		return "failed_on_chain"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "indeterminate"
	}
}

// ResolveOutcome maps a GetTransaction result to a TxOutcome.
func ResolveOutcome(tx *Transaction, err error) TxOutcome {
	if err != nil {
		return OutcomeIndeterminate
	}
	if tx == nil {
		return OutcomeNotFound
	}
	if tx.Meta != nil && tx.Meta.Err != nil {
		return OutcomeFailedOnChain
	}
	return OutcomeConfirmed
}
