package hashgraph

// ConsensusRound is a batch of events that reached consensus together.
type ConsensusRound struct {
	RoundNum int64
	Events   []*Event
	// Keystone is the event whose durability must be guaranteed before the
	// transactions of the round are handled.
	Keystone *Event
	// Window is the event window that applies after this round.
	Window EventWindow
}

// KeystoneSequenceNumber returns the stream sequence number of the keystone
// event, or -1 if the round has none.
func (r *ConsensusRound) KeystoneSequenceNumber() int64 {
	if r.Keystone == nil {
		return -1
	}
	return r.Keystone.StreamSequenceNumber()
}

// Consensus is the virtual-voting engine. It is called from a single goroutine.
type Consensus interface {
	// AddEvent links an event whose parents have all been added before, or are
	// ancient, and returns the rounds that reached consensus as a result.
	AddEvent(event *Event) []*ConsensusRound
	// EventWindow returns the current thresholds.
	EventWindow() EventWindow
}

// WindowRestorer is implemented by Consensus engines that can resume from an
// event window saved before a restart.
type WindowRestorer interface {
	RestoreEventWindow(w EventWindow) bool
}
