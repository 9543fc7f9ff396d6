package validation

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

// LogPeriod is the minimum interval between two log lines about invalid events.
const LogPeriod = time.Minute

// EventValidator runs all the checks that do not need the event's parents. It
// is owned by the intake worker and must not be called concurrently.
type EventValidator struct {
	currentVersion version.SoftwareVersion
	previousBook   *peers.PeerSet
	currentBook    *peers.PeerSet

	maxTransactionBytes int
	ancient             *AncientValidator
	dedup               *Deduplicator

	counter hashgraph.IntakeEventCounter
	metrics *metrics.Metrics
	logger  *common.RateLimitedLogger
}

// NewEventValidator creates a validator. previousBook may be nil when the
// network never upgraded. A maxTransactionBytes of zero disables the size
// check. Dedup enables the duplicate filter.
func NewEventValidator(
	currentVersion version.SoftwareVersion,
	previousBook *peers.PeerSet,
	currentBook *peers.PeerSet,
	maxTransactionBytes int,
	window hashgraph.EventWindow,
	dedup bool,
	counter hashgraph.IntakeEventCounter,
	m *metrics.Metrics,
	logger *logrus.Entry,
) *EventValidator {
	if counter == nil {
		counter = hashgraph.NoOpIntakeEventCounter{}
	}

	if m == nil {
		m = metrics.NewMetrics()
	}

	v := &EventValidator{
		currentVersion:      currentVersion,
		previousBook:        previousBook,
		currentBook:         currentBook,
		maxTransactionBytes: maxTransactionBytes,
		ancient:             NewAncientValidator(window),
		counter:             counter,
		metrics:             m,
		logger:              common.NewRateLimitedLogger(logger, LogPeriod),
	}

	if dedup {
		v.dedup = NewDeduplicator(window, m)
	}

	return v
}

// Validate returns Valid or the reason the event was dropped. Dropped events
// have exited the intake pipeline when Validate returns.
func (v *EventValidator) Validate(e *hashgraph.Event) Verdict {
	if e.Signature == "" {
		return v.reject(e, MissingSignature, nil)
	}

	if v.maxTransactionBytes > 0 && e.TransactionBytes() > v.maxTransactionBytes {
		return v.reject(e, TooManyTransactionBytes, logrus.Fields{
			"bytes": e.TransactionBytes(),
			"max":   v.maxTransactionBytes,
		})
	}

	if reason := v.checkParents(e); reason != "" {
		return v.reject(e, InvalidParents, logrus.Fields{"detail": reason})
	}

	if maxParent := maxParentBirthRound(e); e.BirthRound() < maxParent {
		return v.reject(e, InvalidBirthRound, logrus.Fields{
			"birth_round":            e.BirthRound(),
			"max_parent_birth_round": maxParent,
		})
	}

	if v.ancient.IsAncient(e) {
		return v.drop(e, Ancient)
	}

	if v.dedup != nil && !v.dedup.Handle(e) {
		v.counter.EventExitedIntakePipeline(e.SenderID())
		return Duplicate
	}

	if reason := v.checkSignature(e); reason != "" {
		return v.reject(e, InvalidSignature, logrus.Fields{"detail": reason})
	}

	return Valid
}

// SetEventWindow updates the ancient threshold and prunes the duplicate
// filter. Windows that lower a threshold are ignored.
func (v *EventValidator) SetEventWindow(w hashgraph.EventWindow) {
	if !v.ancient.SetEventWindow(w) {
		v.logger.Error(logrus.Fields{
			"current": v.ancient.EventWindow().String(),
			"refused": w.String(),
		}, "Event window would move backwards")
		return
	}
	if v.dedup != nil {
		v.dedup.SetEventWindow(w)
	}
}

// EventWindow returns the window the validator currently applies.
func (v *EventValidator) EventWindow() hashgraph.EventWindow {
	return v.ancient.EventWindow()
}

func (v *EventValidator) reject(e *hashgraph.Event, verdict Verdict, fields logrus.Fields) Verdict {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["event"] = e.String()
	fields["sender"] = e.SenderID()
	fields["reason"] = verdict.String()
	v.logger.Warn(fields, "Invalid event")

	return v.drop(e, verdict)
}

func (v *EventValidator) drop(e *hashgraph.Event, verdict Verdict) Verdict {
	v.metrics.InvalidEvents.WithLabelValues(verdict.String()).Inc()
	v.counter.EventExitedIntakePipeline(e.SenderID())
	return verdict
}

// checkParents returns a description of the first inconsistency found, or the
// empty string.
func (v *EventValidator) checkParents(e *hashgraph.Event) string {
	sp := e.Body.SelfParent
	if sp != nil && !descriptorConsistent(*sp) {
		return "self-parent hash and generation disagree"
	}

	for _, op := range e.Body.OtherParents {
		if !descriptorConsistent(op) {
			return "other-parent hash and generation disagree"
		}
		if op.IsEmpty() || sp == nil || sp.IsEmpty() {
			continue
		}
		if op.Hash == sp.Hash && !v.singleNodeNetwork() {
			return "self-parent is also an other-parent"
		}
	}

	if e.Generation() != hashgraph.ComputeGeneration(e.SelfParent(), e.OtherParents()) {
		return "generation does not follow from parents"
	}

	return ""
}

func (v *EventValidator) singleNodeNetwork() bool {
	return v.currentBook != nil && v.currentBook.Len() == 1
}

// A parent hash must be present exactly when the parent generation is a real
// one.
func descriptorConsistent(d hashgraph.EventDescriptor) bool {
	hasHash := d.Hash != ""
	hasGeneration := d.Generation >= hashgraph.FirstGeneration
	return hasHash == hasGeneration
}

func maxParentBirthRound(e *hashgraph.Event) int64 {
	var max int64
	for i, p := range e.Parents() {
		if i == 0 || p.BirthRound > max {
			max = p.BirthRound
		}
	}
	return max
}

// checkSignature picks the address book matching the event's software version
// and verifies the signature against the creator's key. Anything it cannot
// resolve is rejected.
func (v *EventValidator) checkSignature(e *hashgraph.Event) string {
	var book *peers.PeerSet

	switch e.SoftwareVersion().Compare(v.currentVersion) {
	case 0:
		book = v.currentBook
	case -1:
		if v.previousBook == nil {
			return "event from an older version and no previous address book"
		}
		book = v.previousBook
	default:
		return "event from a newer software version"
	}

	if book == nil || !book.Contains(e.Creator()) {
		return "creator not in address book"
	}

	pub := book.PublicKey(e.Creator())
	if pub == nil {
		return "creator has no public key"
	}

	if !e.Verify(pub) {
		return "signature verification failed"
	}

	return ""
}
