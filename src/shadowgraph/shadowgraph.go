package shadowgraph

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
)

// Shadowgraph is the arena of linked events.
type Shadowgraph struct {
	sync.RWMutex

	window hashgraph.EventWindow
	events map[string]*ShadowEvent
	index  *common.SequenceIndex[string]
	tips   map[uint32]*ShadowEvent
	seq    uint64

	logger *logrus.Entry
}

// NewShadowgraph ...
func NewShadowgraph(window hashgraph.EventWindow, logger *logrus.Entry) *Shadowgraph {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Shadowgraph{
		window: window,
		events: make(map[string]*ShadowEvent),
		index:  common.NewSequenceIndex[string](window.ExpiredThreshold),
		tips:   make(map[uint32]*ShadowEvent),
		logger: logger,
	}
}

// Insert adds an event whose parents are either in the graph or ancient.
// Anything else is a caller error and leaves the graph unchanged.
func (g *Shadowgraph) Insert(event *hashgraph.Event) error {
	g.Lock()
	defer g.Unlock()

	hash := event.Hex()

	if _, ok := g.events[hash]; ok {
		return common.NewStoreErr("Shadowgraph", common.KeyAlreadyExists, hash)
	}

	if g.window.IsExpired(event.AncientIndicator(g.window.Mode)) {
		return common.NewStoreErr("Shadowgraph", common.TooLate, hash)
	}

	se := &ShadowEvent{Event: event}

	if sp := event.SelfParent(); sp != nil {
		link, err := g.resolve(*sp)
		if err != nil {
			return err
		}
		se.SelfParent = &link
	}

	for _, op := range event.OtherParents() {
		link, err := g.resolve(op)
		if err != nil {
			return err
		}
		se.OtherParents = append(se.OtherParents, link)
	}

	for _, l := range se.links() {
		if !l.Ancient {
			parent := g.events[l.Hash]
			parent.Children = append(parent.Children, hash)
		}
	}

	g.seq++
	se.seq = g.seq
	g.events[hash] = se
	g.index.Add(event.AncientIndicator(g.window.Mode), hash)

	if tip, ok := g.tips[event.Creator()]; !ok || event.Generation() > tip.Event.Generation() {
		g.tips[event.Creator()] = se
	}

	return nil
}

func (g *Shadowgraph) resolve(parent hashgraph.EventDescriptor) (ParentLink, error) {
	if _, ok := g.events[parent.Hash]; ok {
		return ParentLink{Hash: parent.Hash}, nil
	}
	if g.window.IsAncientDescriptor(parent) {
		return ParentLink{Hash: parent.Hash, Ancient: true}, nil
	}
	return ParentLink{}, common.NewStoreErr("Shadowgraph", common.UnknownParent, parent.Hash)
}

// Get returns a snapshot of the event, or nil.
func (g *Shadowgraph) Get(hash string) *ShadowEvent {
	g.RLock()
	defer g.RUnlock()

	se, ok := g.events[hash]
	if !ok {
		return nil
	}
	return se.snapshot()
}

// Event returns the event with the given hash, or nil.
func (g *Shadowgraph) Event(hash string) *hashgraph.Event {
	g.RLock()
	defer g.RUnlock()

	if se, ok := g.events[hash]; ok {
		return se.Event
	}
	return nil
}

// Contains ...
func (g *Shadowgraph) Contains(hash string) bool {
	g.RLock()
	defer g.RUnlock()

	_, ok := g.events[hash]
	return ok
}

// Len returns the number of events held.
func (g *Shadowgraph) Len() int {
	g.RLock()
	defer g.RUnlock()

	return len(g.events)
}

// EventWindow ...
func (g *Shadowgraph) EventWindow() hashgraph.EventWindow {
	g.RLock()
	defer g.RUnlock()

	return g.window
}

// Tips returns the most recent event of every creator still in the graph.
func (g *Shadowgraph) Tips() map[uint32]*ShadowEvent {
	g.RLock()
	defer g.RUnlock()

	res := make(map[uint32]*ShadowEvent, len(g.tips))
	for c, se := range g.tips {
		res[c] = se.snapshot()
	}
	return res
}

// TipSummary lists the descriptors of the tips that are not ancient under w,
// sorted by creator.
func (g *Shadowgraph) TipSummary(w hashgraph.EventWindow) []hashgraph.EventDescriptor {
	g.RLock()
	defer g.RUnlock()

	res := []hashgraph.EventDescriptor{}
	for _, se := range g.tips {
		if !w.IsAncientEvent(se.Event) {
			res = append(res, se.Event.Descriptor())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Creator < res[j].Creator })
	return res
}

// FindByAncientIndicator returns the events with low <= indicator < high that
// satisfy pred, lowest indicator first. A nil pred matches everything.
func (g *Shadowgraph) FindByAncientIndicator(low, high int64, pred func(*hashgraph.Event) bool) []*hashgraph.Event {
	g.RLock()
	defer g.RUnlock()

	res := []*hashgraph.Event{}
	g.index.Range(low, high, func(_ int64, hash string) {
		ev := g.events[hash].Event
		if pred == nil || pred(ev) {
			res = append(res, ev)
		}
	})
	return res
}

// FindAncestors walks the live parent links from the roots, which are included.
// Traversal stops at events for which pred returns false. Roots that are not
// in the graph are ignored.
func (g *Shadowgraph) FindAncestors(roots []string, pred func(*hashgraph.Event) bool) []*ShadowEvent {
	g.RLock()
	defer g.RUnlock()

	found := g.ancestors(roots, pred)

	res := make([]*ShadowEvent, 0, len(found))
	for hash := range found {
		res = append(res, g.events[hash].snapshot())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].seq < res[j].seq })
	return res
}

func (g *Shadowgraph) ancestors(roots []string, pred func(*hashgraph.Event) bool) map[string]struct{} {
	visited := make(map[string]struct{})
	stack := append([]string{}, roots...)

	for len(stack) > 0 {
		hash := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := visited[hash]; ok {
			continue
		}
		se, ok := g.events[hash]
		if !ok || (pred != nil && !pred(se.Event)) {
			continue
		}
		visited[hash] = struct{}{}

		for _, l := range se.links() {
			if !l.Ancient {
				stack = append(stack, l.Hash)
			}
		}
	}

	return visited
}

// Diff returns the events a peer is missing, given its tips and window, in an
// order where parents come before children. Events that are ancient for either
// side are left out, as are the events the peer's tips show it already has.
func (g *Shadowgraph) Diff(peerTips []hashgraph.EventDescriptor, myWindow, peerWindow hashgraph.EventWindow) []*hashgraph.Event {
	g.RLock()
	defer g.RUnlock()

	peerGen := make(map[uint32]int64, len(peerTips))
	roots := make([]string, 0, len(peerTips))
	for _, t := range peerTips {
		if gen, ok := peerGen[t.Creator]; !ok || t.Generation > gen {
			peerGen[t.Creator] = t.Generation
		}
		roots = append(roots, t.Hash)
	}

	known := g.ancestors(roots, nil)

	diff := []*ShadowEvent{}
	for hash, se := range g.events {
		ev := se.Event
		if myWindow.IsAncientEvent(ev) || peerWindow.IsAncientEvent(ev) {
			continue
		}
		if _, ok := known[hash]; ok {
			continue
		}
		if gen, ok := peerGen[ev.Creator()]; ok && ev.Generation() <= gen {
			continue
		}
		diff = append(diff, se)
	}

	sort.Slice(diff, func(i, j int) bool {
		gi, gj := diff[i].Event.Generation(), diff[j].Event.Generation()
		if gi != gj {
			return gi < gj
		}
		return diff[i].seq < diff[j].seq
	})

	res := make([]*hashgraph.Event, len(diff))
	for i, se := range diff {
		res[i] = se.Event
	}
	return res
}

// UpdateEventWindow drops every event below the expired threshold. Children of
// dropped events keep an Ancient link in place of the parent. A window that
// would lower a threshold is refused.
func (g *Shadowgraph) UpdateEventWindow(w hashgraph.EventWindow) {
	g.Lock()
	defer g.Unlock()

	if !w.Covers(g.window) {
		g.logger.WithFields(logrus.Fields{
			"current": g.window.String(),
			"refused": w.String(),
		}).Error("Event window would move backwards")
		return
	}
	g.window = w

	g.index.ShiftWindow(w.ExpiredThreshold, func(_ int64, hash string) {
		g.remove(hash)
	})
}

func (g *Shadowgraph) remove(hash string) {
	se, ok := g.events[hash]
	if !ok {
		return
	}

	for _, l := range se.links() {
		if l.Ancient {
			continue
		}
		if parent, ok := g.events[l.Hash]; ok {
			parent.removeChild(hash)
		}
	}

	for _, c := range se.Children {
		child, ok := g.events[c]
		if !ok {
			continue
		}
		for _, l := range child.links() {
			if l.Hash == hash {
				l.Ancient = true
			}
		}
	}

	if tip, ok := g.tips[se.Event.Creator()]; ok && tip == se {
		delete(g.tips, se.Event.Creator())
	}

	delete(g.events, hash)
}
