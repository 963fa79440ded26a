package constants

// PartState is the lifecycle state of one part record within an email.
type PartState string

// Stable values (these exact strings are logged and stored).
const (
	PartBodyExtracted     PartState = "BODY_EXTRACTED"
	PartMerged            PartState = "MERGED"
	PartNormalized        PartState = "NORMALIZED"
	PartEmitted           PartState = "EMITTED"             // terminal
	PartSkippedEmpty      PartState = "SKIPPED_EMPTY"       // terminal
	PartSkippedParseError PartState = "SKIPPED_PARSE_ERROR" // terminal
)

// IsTerminal reports whether no further transitions are allowed.
func (s PartState) IsTerminal() bool {
	switch s {
	case PartEmitted, PartSkippedEmpty, PartSkippedParseError:
		return true
	}
	return false
}

var partTransitions = map[PartState][]PartState{
	PartBodyExtracted: {PartMerged, PartSkippedParseError},
	PartMerged:        {PartNormalized, PartSkippedEmpty, PartSkippedParseError},
	PartNormalized:    {PartEmitted},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to PartState) bool {
	for _, s := range partTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
