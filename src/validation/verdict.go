package validation

// Verdict is the outcome of validating an event.
type Verdict uint8

const (
	// Valid events continue to the orphan buffer.
	Valid Verdict = iota
	// MissingSignature means the event carries no signature at all.
	MissingSignature
	// TooManyTransactionBytes means the payload exceeds the configured limit.
	TooManyTransactionBytes
	// InvalidParents covers inconsistent parent descriptors and generations.
	InvalidParents
	// InvalidBirthRound means a parent has a higher birth round than the event.
	InvalidBirthRound
	// Ancient events are below the current ancient threshold.
	Ancient
	// Duplicate events were already seen with the same signature.
	Duplicate
	// InvalidSignature covers unknown creators, missing keys, version
	// mismatches and failed verification.
	InvalidSignature
	// InvalidTimeCreated means the event is not younger than its self-parent.
	InvalidTimeCreated
)

// String returns the label used in metrics and logs.
func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case MissingSignature:
		return "missing_signature"
	case TooManyTransactionBytes:
		return "too_many_transaction_bytes"
	case InvalidParents:
		return "invalid_parents"
	case InvalidBirthRound:
		return "invalid_birth_round"
	case Ancient:
		return "ancient"
	case Duplicate:
		return "duplicate"
	case InvalidSignature:
		return "invalid_signature"
	case InvalidTimeCreated:
		return "invalid_time_created"
	default:
		return "unknown"
	}
}
