package validation

import "github.com/mosaicnetworks/hashgossip/src/hashgraph"

// IsValidTimeCreated is true when the event has no self-parent, or when it was
// created strictly after its self-parent.
func IsValidTimeCreated(event, selfParent *hashgraph.Event) bool {
	if selfParent == nil {
		return true
	}
	return event.Body.Timestamp > selfParent.Body.Timestamp
}
