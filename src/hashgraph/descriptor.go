package hashgraph

import "fmt"

const (
	// FirstGeneration is the generation of an event without parents.
	FirstGeneration int64 = 0
	// NoGeneration is the generation recorded for an absent parent.
	NoGeneration int64 = -1
)

// EventDescriptor identifies an event without carrying its body.
type EventDescriptor struct {
	Hash       string
	Creator    uint32
	Generation int64
	BirthRound int64
}

// AncientIndicator returns the value compared against EventWindow thresholds.
func (d EventDescriptor) AncientIndicator(mode AncientMode) int64 {
	if mode == BirthRoundThreshold {
		return d.BirthRound
	}
	return d.Generation
}

// IsEmpty is true for a descriptor with no hash and NoGeneration, which stands
// for "no parent". The zero EventDescriptor is not empty: its generation is
// FirstGeneration.
func (d EventDescriptor) IsEmpty() bool {
	return d.Hash == "" && d.Generation < FirstGeneration
}

func (d EventDescriptor) String() string {
	return fmt.Sprintf("%d/%d/%s", d.Creator, d.Generation, shortHash(d.Hash))
}

func shortHash(h string) string {
	if len(h) > 10 {
		return h[:10]
	}
	return h
}
