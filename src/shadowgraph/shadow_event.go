package shadowgraph

import "github.com/mosaicnetworks/hashgossip/src/hashgraph"

// ParentLink points to a parent in the graph, or marks it as ancient.
type ParentLink struct {
	Hash    string
	Ancient bool
}

// ShadowEvent is an event together with its links inside the graph. Values
// returned by the Shadowgraph are snapshots and may be read freely.
type ShadowEvent struct {
	Event *hashgraph.Event

	SelfParent   *ParentLink
	OtherParents []ParentLink
	Children     []string

	// insertion counter, breaks generation ties in diffs
	seq uint64
}

func (se *ShadowEvent) links() []*ParentLink {
	res := []*ParentLink{}
	if se.SelfParent != nil {
		res = append(res, se.SelfParent)
	}
	for i := range se.OtherParents {
		res = append(res, &se.OtherParents[i])
	}
	return res
}

func (se *ShadowEvent) removeChild(hash string) {
	for i, c := range se.Children {
		if c == hash {
			se.Children = append(se.Children[:i], se.Children[i+1:]...)
			return
		}
	}
}

func (se *ShadowEvent) snapshot() *ShadowEvent {
	cp := &ShadowEvent{
		Event:        se.Event,
		OtherParents: append([]ParentLink{}, se.OtherParents...),
		Children:     append([]string{}, se.Children...),
		seq:          se.seq,
	}
	if se.SelfParent != nil {
		sp := *se.SelfParent
		cp.SelfParent = &sp
	}
	return cp
}
