package annotation

import (
	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

const DefaultHistoryDepth = 50

// SnapshotEntry is the state of one image at the time a snapshot was taken
type SnapshotEntry struct {
	Index      int
	Annotation *domain.ImageAnnotation
}

// Snapshot groups the entries that one edit touched. A batch copy to several
// frames is a single snapshot.
type Snapshot struct {
	Seq     uint64
	Side    domain.Side
	Entries []SnapshotEntry
}

func (s Snapshot) Indices() []int {
	ret := make([]int, len(s.Entries))
	for i, e := range s.Entries {
		ret[i] = e.Index
	}
	return ret
}

// ring is a fixed capacity stack that drops its oldest element when full
type ring struct {
	buf   []Snapshot
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Snapshot, capacity)}
}

func (r *ring) push(s Snapshot) {
	if r.n == len(r.buf) {
		r.buf[r.start] = s
		r.start = (r.start + 1) % len(r.buf)
		return
	}
	r.buf[(r.start+r.n)%len(r.buf)] = s
	r.n++
}

func (r *ring) pop() (Snapshot, bool) {
	if r.n == 0 {
		return Snapshot{}, false
	}
	i := (r.start + r.n - 1) % len(r.buf)
	s := r.buf[i]
	r.buf[i] = Snapshot{}
	r.n--
	return s, true
}

func (r *ring) clear() {
	for i := range r.buf {
		r.buf[i] = Snapshot{}
	}
	r.start, r.n = 0, 0
}

// HistoryManager keeps bounded undo and redo stacks for every side.
// Sides never share history.
type HistoryManager struct {
	depth int
	seq   uint64
	undo  map[domain.Side]*ring
	redo  map[domain.Side]*ring
}

func NewHistoryManager(depth int) *HistoryManager {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &HistoryManager{
		depth: depth,
		undo:  map[domain.Side]*ring{},
		redo:  map[domain.Side]*ring{},
	}
}

func (h *HistoryManager) stacks(side domain.Side) (undo, redo *ring) {
	if _, ok := h.undo[side]; !ok {
		h.undo[side] = newRing(h.depth)
		h.redo[side] = newRing(h.depth)
	}
	return h.undo[side], h.redo[side]
}

func (h *HistoryManager) snapshot(side domain.Side, entries []SnapshotEntry) Snapshot {
	h.seq++
	s := Snapshot{Seq: h.seq, Side: side, Entries: make([]SnapshotEntry, len(entries))}
	for i, e := range entries {
		s.Entries[i] = SnapshotEntry{Index: e.Index, Annotation: e.Annotation.Clone()}
	}
	return s
}

// Push records the state before an edit and clears the redo stack of side
func (h *HistoryManager) Push(side domain.Side, entries ...SnapshotEntry) Snapshot {
	undo, redo := h.stacks(side)
	s := h.snapshot(side, entries)
	undo.push(s)
	redo.clear()
	return s
}

// CaptureFunc returns the current state of the given image indices
type CaptureFunc func(indices []int) []SnapshotEntry

// Undo pops the latest snapshot of side. capture is called with the indices
// the snapshot covers and its result goes to the redo stack. ok is false when
// there is nothing to undo.
func (h *HistoryManager) Undo(side domain.Side, capture CaptureFunc) (s Snapshot, ok bool) {
	undo, redo := h.stacks(side)
	return h.swap(side, undo, redo, capture)
}

// Redo is the mirror of Undo
func (h *HistoryManager) Redo(side domain.Side, capture CaptureFunc) (s Snapshot, ok bool) {
	undo, redo := h.stacks(side)
	return h.swap(side, redo, undo, capture)
}

func (h *HistoryManager) swap(side domain.Side, from, to *ring, capture CaptureFunc) (Snapshot, bool) {
	s, ok := from.pop()
	if !ok {
		return Snapshot{}, false
	}
	to.push(h.snapshot(side, capture(s.Indices())))
	return s, true
}

// Len returns the sizes of the undo and redo stacks of side
func (h *HistoryManager) Len(side domain.Side) (undo, redo int) {
	u, r := h.stacks(side)
	return u.n, r.n
}

func (h *HistoryManager) Reset(side domain.Side) {
	u, r := h.stacks(side)
	u.clear()
	r.clear()
}
