package validation

import "github.com/mosaicnetworks/hashgossip/src/hashgraph"

// AncientValidator classifies events against the latest event window.
type AncientValidator struct {
	window hashgraph.EventWindow
}

// NewAncientValidator ...
func NewAncientValidator(window hashgraph.EventWindow) *AncientValidator {
	return &AncientValidator{window: window}
}

// IsAncient ...
func (a *AncientValidator) IsAncient(e *hashgraph.Event) bool {
	return a.window.IsAncientEvent(e)
}

// SetEventWindow replaces the window. It returns false, and keeps the old
// window, if the new one would lower a threshold.
func (a *AncientValidator) SetEventWindow(w hashgraph.EventWindow) bool {
	if !w.Covers(a.window) {
		return false
	}
	a.window = w
	return true
}

// EventWindow ...
func (a *AncientValidator) EventWindow() hashgraph.EventWindow {
	return a.window
}
