package domain

import "fmt"

// StageKind is the lifecycle phase of a market.
type StageKind string

const (
	StageProposed  StageKind = "PROPOSED"
	StageOpen      StageKind = "OPEN"
	StagePaused    StageKind = "PAUSED"
	StageFinalized StageKind = "FINALIZED"
)

// ResolutionKind tells how a finalized market ended.
type ResolutionKind string

const (
	ResolutionResolved ResolutionKind = "RESOLVED"
	ResolutionInvalid  ResolutionKind = "INVALID"
)

// Resolution is only present on finalized markets.
type Resolution struct {
	Kind      ResolutionKind `json:"kind"`
	OutcomeID uint32         `json:"outcome_id,omitempty"` // winner, RESOLVED only
}

// Stage is Proposed | Open | Paused | Finalized(Resolution).
type Stage struct {
	Kind       StageKind   `json:"kind"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

func Proposed() Stage { return Stage{Kind: StageProposed} }
func Open() Stage     { return Stage{Kind: StageOpen} }
func Paused() Stage   { return Stage{Kind: StagePaused} }

// Resolved finalizes a market with a winning outcome.
func Resolved(outcomeID uint32) Stage {
	return Stage{Kind: StageFinalized, Resolution: &Resolution{Kind: ResolutionResolved, OutcomeID: outcomeID}}
}

// Invalid finalizes a market that has no valid resolution; holders are refunded.
func Invalid() Stage {
	return Stage{Kind: StageFinalized, Resolution: &Resolution{Kind: ResolutionInvalid}}
}

// IsFinalized reports whether the stage is terminal.
func (s Stage) IsFinalized() bool {
	return s.Kind == StageFinalized
}

// Is reports whether the stage is one of kinds.
func (s Stage) Is(kinds ...StageKind) bool {
	for _, k := range kinds {
		if s.Kind == k {
			return true
		}
	}
	return false
}

func (s Stage) String() string {
	if s.Resolution == nil {
		return string(s.Kind)
	}
	if s.Resolution.Kind == ResolutionResolved {
		return fmt.Sprintf("%s(%s:%d)", s.Kind, s.Resolution.Kind, s.Resolution.OutcomeID)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Resolution.Kind)
}
