package hashgraph

import "sync"

// RelayConsensus implements Consensus without ordering anything. It counts a
// pseudo round every GenerationsPerRound generations and derives the event
// window from it, so that a node running without a voting engine still ages
// out old events and relays gossip with bounded memory.
type RelayConsensus struct {
	sync.RWMutex

	mode                AncientMode
	generationsPerRound int64
	roundsNonAncient    int64
	roundsExpired       int64

	maxGeneration int64
	window        EventWindow
}

// NewRelayConsensus creates a RelayConsensus. roundsExpired is raised to
// roundsNonAncient if it is lower.
func NewRelayConsensus(mode AncientMode, generationsPerRound, roundsNonAncient, roundsExpired int64) *RelayConsensus {
	if generationsPerRound < 1 {
		generationsPerRound = 1
	}
	if roundsNonAncient < 1 {
		roundsNonAncient = 1
	}
	if roundsExpired < roundsNonAncient {
		roundsExpired = roundsNonAncient
	}
	return &RelayConsensus{
		mode:                mode,
		generationsPerRound: generationsPerRound,
		roundsNonAncient:    roundsNonAncient,
		roundsExpired:       roundsExpired,
		maxGeneration:       NoGeneration,
		window:              GenesisEventWindow(mode),
	}
}

// AddEvent implements Consensus. It never returns rounds.
func (c *RelayConsensus) AddEvent(event *Event) []*ConsensusRound {
	c.Lock()
	defer c.Unlock()

	if event.Generation() <= c.maxGeneration {
		return nil
	}
	c.maxGeneration = event.Generation()

	round := c.maxGeneration / c.generationsPerRound

	var ancient, expired int64
	if c.mode == BirthRoundThreshold {
		ancient = round + 1 - c.roundsNonAncient
		expired = round + 1 - c.roundsExpired
	} else {
		ancient = c.maxGeneration - c.roundsNonAncient*c.generationsPerRound
		expired = c.maxGeneration - c.roundsExpired*c.generationsPerRound
	}

	c.window = NewEventWindow(
		maxInt64(round, c.window.LatestConsensusRound),
		maxInt64(ancient, c.window.AncientThreshold),
		maxInt64(expired, c.window.ExpiredThreshold),
		c.mode,
	)

	return nil
}

// RestoreEventWindow implements WindowRestorer. The window is taken only if it
// has the same mode and is not below the current one.
func (c *RelayConsensus) RestoreEventWindow(w EventWindow) bool {
	c.Lock()
	defer c.Unlock()

	if !w.Covers(c.window) {
		return false
	}
	c.window = w
	return true
}

// EventWindow implements Consensus.
func (c *RelayConsensus) EventWindow() EventWindow {
	c.RLock()
	defer c.RUnlock()
	return c.window
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
