package hashgraph

import (
	"fmt"
	"strings"
)

// AncientMode selects which event field is compared against the window
// thresholds.
type AncientMode uint8

const (
	// GenerationThreshold compares generations.
	GenerationThreshold AncientMode = iota
	// BirthRoundThreshold compares birth rounds.
	BirthRoundThreshold
)

// ParseAncientMode reads the configuration form of an AncientMode.
func ParseAncientMode(s string) (AncientMode, error) {
	switch strings.ToLower(s) {
	case "", "generation":
		return GenerationThreshold, nil
	case "birth-round", "birthround":
		return BirthRoundThreshold, nil
	}
	return GenerationThreshold, fmt.Errorf("unknown ancient mode %q", s)
}

func (m AncientMode) String() string {
	if m == BirthRoundThreshold {
		return "birth-round"
	}
	return "generation"
}

// EventWindow holds the thresholds that classify events by age. Anything below
// AncientThreshold is ancient. Anything below ExpiredThreshold may be dropped
// from memory. ExpiredThreshold never exceeds AncientThreshold.
type EventWindow struct {
	LatestConsensusRound int64
	AncientThreshold     int64
	ExpiredThreshold     int64
	Mode                 AncientMode
}

// NewEventWindow builds a window, clamping the expired threshold to the ancient
// one.
func NewEventWindow(latestRound, ancient, expired int64, mode AncientMode) EventWindow {
	if expired > ancient {
		expired = ancient
	}
	return EventWindow{
		LatestConsensusRound: latestRound,
		AncientThreshold:     ancient,
		ExpiredThreshold:     expired,
		Mode:                 mode,
	}
}

// GenesisEventWindow is the window before any round reached consensus. Nothing
// is ancient under it.
func GenesisEventWindow(mode AncientMode) EventWindow {
	return NewEventWindow(0, FirstGeneration, FirstGeneration, mode)
}

// IsAncient reports whether an ancient indicator is below the ancient threshold.
func (w EventWindow) IsAncient(indicator int64) bool {
	return indicator < w.AncientThreshold
}

// IsExpired reports whether an ancient indicator is below the expired threshold.
func (w EventWindow) IsExpired(indicator int64) bool {
	return indicator < w.ExpiredThreshold
}

// IsAncientDescriptor ...
func (w EventWindow) IsAncientDescriptor(d EventDescriptor) bool {
	return w.IsAncient(d.AncientIndicator(w.Mode))
}

// IsAncientEvent ...
func (w EventWindow) IsAncientEvent(e *Event) bool {
	return w.IsAncient(e.AncientIndicator(w.Mode))
}

// Covers is true when no threshold of w is lower than the matching threshold of
// prev. Consumers refuse windows that do not cover the one they hold.
func (w EventWindow) Covers(prev EventWindow) bool {
	return w.Mode == prev.Mode &&
		w.AncientThreshold >= prev.AncientThreshold &&
		w.ExpiredThreshold >= prev.ExpiredThreshold &&
		w.LatestConsensusRound >= prev.LatestConsensusRound
}

func (w EventWindow) String() string {
	return fmt.Sprintf("round=%d ancient=%d expired=%d mode=%s",
		w.LatestConsensusRound, w.AncientThreshold, w.ExpiredThreshold, w.Mode)
}
