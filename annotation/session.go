package annotation

import (
	"math"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

// Mode is the pointer editing mode. Modes only change through SetMode.
type Mode string

const (
	ModeMove   Mode = "move"
	ModeAdd    Mode = "add"
	ModeDelete Mode = "delete"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeMove, ModeAdd, ModeDelete:
		return m, nil
	}
	return "", domain.Validationf("unknown mode %q", s)
}

// DefaultSelectRadius is the image space distance under which a click picks a keypoint
const DefaultSelectRadius = 30.0

type SessionOptions struct {
	SelectRadius      float64
	HistoryDepth      int
	DefaultVisibility domain.Visibility
}

type selection struct {
	side     domain.Side
	image    int
	keypoint int
}

// drag is a pointer gesture in move mode. It is recorded in history once, on
// its first movement.
type drag struct {
	sel    selection
	before *domain.ImageAnnotation
	moved  bool
}

// EditSession applies editing commands to a Store and records them in a
// HistoryManager. Every mutation snapshots the affected images before
// changing them.
type EditSession struct {
	store   *Store
	history *HistoryManager
	radius  float64
	visible domain.Visibility
	mode    Mode
	current map[domain.Side]int
	sel     *selection
	drag    *drag
	status  Status
}

func NewEditSession(store *Store, opts SessionOptions) *EditSession {
	if opts.SelectRadius <= 0 {
		opts.SelectRadius = DefaultSelectRadius
	}
	if opts.DefaultVisibility == domain.NotLabeled || !opts.DefaultVisibility.Valid() {
		opts.DefaultVisibility = domain.LabeledVisible
	}
	return &EditSession{
		store:   store,
		history: NewHistoryManager(opts.HistoryDepth),
		radius:  opts.SelectRadius,
		visible: opts.DefaultVisibility,
		mode:    ModeMove,
		current: map[domain.Side]int{},
	}
}

func (e *EditSession) Store() *Store {
	return e.store
}

func (e *EditSession) History() *HistoryManager {
	return e.history
}

func (e *EditSession) Mode() Mode {
	return e.mode
}

func (e *EditSession) SetMode(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	e.finishDrag()
	e.mode = m
	e.sel = nil
	e.setStatus("ModeChanged", map[string]any{"Mode": string(m)})
	return nil
}

// Status returns the message of the last command
func (e *EditSession) Status() Status {
	return e.status
}

func (e *EditSession) setStatus(id string, data map[string]any) {
	e.status = Status{ID: id, Data: data}
}

// Current returns the image index shown on side
func (e *EditSession) Current(side domain.Side) (int, error) {
	if _, err := e.store.side(side); err != nil {
		return 0, err
	}
	return e.current[side], nil
}

func (e *EditSession) SelectImage(side domain.Side, index int) error {
	if _, err := e.store.slot(side, index); err != nil {
		return err
	}
	e.finishDrag()
	if e.sel != nil && e.sel.side == side {
		e.sel = nil
	}
	e.current[side] = index
	return nil
}

// Step moves the current image of side by delta
func (e *EditSession) Step(side domain.Side, delta int) error {
	cur, err := e.Current(side)
	if err != nil {
		return err
	}
	return e.SelectImage(side, cur+delta)
}

// Selected returns the selected keypoint of side, if any
func (e *EditSession) Selected(side domain.Side) (int, bool) {
	if e.sel == nil || e.sel.side != side || e.sel.image != e.current[side] {
		return 0, false
	}
	return e.sel.keypoint, true
}

func (e *EditSession) Deselect() {
	e.finishDrag()
	e.sel = nil
}

// nearest finds the labeled keypoint closest to p, strictly within the radius
func (e *EditSession) nearest(ann *domain.ImageAnnotation, p domain.Point) (int, bool) {
	best, bestDist := -1, e.radius
	for _, kp := range ann.Keypoints {
		if !kp.Labeled() {
			continue
		}
		d := math.Hypot(kp.X-p.X, kp.Y-p.Y)
		if d < bestDist {
			best, bestDist = kp.Index, d
		}
	}
	return best, best >= 0
}

func (e *EditSession) currentAnnotation(side domain.Side) (int, *domain.ImageAnnotation, error) {
	index, err := e.Current(side)
	if err != nil {
		return 0, nil, err
	}
	ann, err := e.store.Get(side, index)
	if err != nil {
		return 0, nil, err
	}
	return index, ann, nil
}

// SelectNear selects the keypoint of the current image of side nearest to p.
// Nothing in range clears the selection.
func (e *EditSession) SelectNear(side domain.Side, p domain.Point) (int, bool, error) {
	index, ann, err := e.currentAnnotation(side)
	if err != nil {
		return 0, false, err
	}
	kp, ok := e.nearest(ann, p)
	if !ok {
		e.sel = nil
		return 0, false, nil
	}
	e.sel = &selection{side: side, image: index, keypoint: kp}
	e.setStatus("KeypointSelected", map[string]any{"Name": e.store.def.Name(kp)})
	return kp, true, nil
}

// record pushes the current state of the given images of side to history
func (e *EditSession) record(side domain.Side, indices ...int) error {
	entries := make([]SnapshotEntry, 0, len(indices))
	for _, i := range indices {
		ann, err := e.store.Get(side, i)
		if err != nil {
			return err
		}
		entries = append(entries, SnapshotEntry{Index: i, Annotation: ann})
	}
	e.history.Push(side, entries...)
	return nil
}

func (e *EditSession) apply(side domain.Side, index int, ann *domain.ImageAnnotation) error {
	return e.store.Set(side, index, ann.Keypoints)
}

// MoveSelected sets the position of the selected keypoint. Outside a drag
// every call is its own history entry. Without a selection it does nothing.
func (e *EditSession) MoveSelected(p domain.Point) error {
	if e.sel == nil {
		return nil
	}
	sel := *e.sel
	ann, err := e.store.Get(sel.side, sel.image)
	if err != nil {
		return err
	}
	if e.drag != nil {
		if !e.drag.moved {
			e.history.Push(sel.side, SnapshotEntry{Index: sel.image, Annotation: e.drag.before})
			e.drag.moved = true
		}
	} else if err := e.record(sel.side, sel.image); err != nil {
		return err
	}
	ann.Keypoints[sel.keypoint].X = p.X
	ann.Keypoints[sel.keypoint].Y = p.Y
	if err := e.apply(sel.side, sel.image, ann); err != nil {
		return err
	}
	e.setStatus("KeypointMoved", map[string]any{"Name": e.store.def.Name(sel.keypoint)})
	return nil
}

// AddAt labels the first unlabeled slot of the current image at p. When
// every slot is labeled it does nothing and reports ok false.
func (e *EditSession) AddAt(side domain.Side, p domain.Point) (kp int, ok bool, err error) {
	index, ann, err := e.currentAnnotation(side)
	if err != nil {
		return 0, false, err
	}
	kp = -1
	for _, k := range ann.Keypoints {
		if !k.Labeled() {
			kp = k.Index
			break
		}
	}
	if kp < 0 {
		e.setStatus("AllKeypointsPlaced", nil)
		return 0, false, nil
	}
	if err := e.record(side, index); err != nil {
		return 0, false, err
	}
	ann.Keypoints[kp] = domain.Keypoint{Index: kp, X: p.X, Y: p.Y, Visibility: e.visible}
	if err := e.apply(side, index, ann); err != nil {
		return 0, false, err
	}
	e.setStatus("KeypointAdded", map[string]any{"Name": e.store.def.Name(kp)})
	return kp, true, nil
}

// DeleteAt resets the keypoint nearest to p to not labeled. The slot stays.
func (e *EditSession) DeleteAt(side domain.Side, p domain.Point) (kp int, ok bool, err error) {
	index, ann, err := e.currentAnnotation(side)
	if err != nil {
		return 0, false, err
	}
	kp, ok = e.nearest(ann, p)
	if !ok {
		return 0, false, nil
	}
	if err := e.record(side, index); err != nil {
		return 0, false, err
	}
	ann.Keypoints[kp] = domain.Keypoint{Index: kp}
	if err := e.apply(side, index, ann); err != nil {
		return 0, false, err
	}
	if e.sel != nil && e.sel.side == side && e.sel.keypoint == kp {
		e.sel = nil
	}
	e.setStatus("KeypointDeleted", map[string]any{"Name": e.store.def.Name(kp)})
	return kp, true, nil
}

// SetVisibility changes the visibility of a labeled keypoint of the current
// image. NotLabeled deletes it.
func (e *EditSession) SetVisibility(side domain.Side, kp int, v domain.Visibility) error {
	if !v.Valid() {
		return domain.Validationf("invalid visibility %d", v)
	}
	index, ann, err := e.currentAnnotation(side)
	if err != nil {
		return err
	}
	if kp < 0 || kp >= len(ann.Keypoints) {
		return domain.Validationf("keypoint index %d out of range [0, %d)", kp, len(ann.Keypoints))
	}
	if !ann.Keypoints[kp].Labeled() {
		return domain.Validationf("keypoint %s is not labeled", e.store.def.Name(kp))
	}
	if ann.Keypoints[kp].Visibility == v {
		return nil
	}
	if err := e.record(side, index); err != nil {
		return err
	}
	if v == domain.NotLabeled {
		ann.Keypoints[kp] = domain.Keypoint{Index: kp}
	} else {
		ann.Keypoints[kp].Visibility = v
	}
	if err := e.apply(side, index, ann); err != nil {
		return err
	}
	e.setStatus("VisibilityChanged", map[string]any{"Name": e.store.def.Name(kp), "Visibility": v.String()})
	return nil
}

// ClearKeypoints resets every slot of the current image of side
func (e *EditSession) ClearKeypoints(side domain.Side) error {
	index, ann, err := e.currentAnnotation(side)
	if err != nil {
		return err
	}
	if ann.LabeledCount() == 0 {
		return nil
	}
	if err := e.record(side, index); err != nil {
		return err
	}
	if err := e.store.Set(side, index, nil); err != nil {
		return err
	}
	e.sel = nil
	e.setStatus("KeypointsCleared", nil)
	return nil
}

// CopyFromPrevious overwrites the current image of side with the keypoints
// of the image before it. It does nothing on the first image or when the
// previous image has no labels.
func (e *EditSession) CopyFromPrevious(side domain.Side) (bool, error) {
	index, err := e.Current(side)
	if err != nil {
		return false, err
	}
	if index == 0 {
		return false, nil
	}
	if _, err := e.store.slot(side, index); err != nil {
		return false, err
	}
	prev, err := e.store.Get(side, index-1)
	if err != nil {
		return false, err
	}
	if prev.LabeledCount() == 0 {
		e.setStatus("NothingToCopy", nil)
		return false, nil
	}
	if err := e.record(side, index); err != nil {
		return false, err
	}
	if err := e.store.Set(side, index, prev.Keypoints); err != nil {
		return false, err
	}
	e.sel = nil
	e.setStatus("CopiedPrevious", nil)
	return true, nil
}

// CopyPrevious runs CopyFromPrevious on side, or on every open side when
// both is set. It returns the sides that changed.
func (e *EditSession) CopyPrevious(side domain.Side, both bool) ([]domain.Side, error) {
	sides := []domain.Side{side}
	if both {
		sides = e.store.Sides()
	}
	var changed []domain.Side
	for _, s := range sides {
		ok, err := e.CopyFromPrevious(s)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, s)
		}
	}
	return changed, nil
}

// CopyToNextN copies the keypoints of the current image of side over the
// next n images, stopping at the last one. The whole batch is one history
// entry. It returns how many images were overwritten.
func (e *EditSession) CopyToNextN(side domain.Side, n int) (int, error) {
	if n <= 0 {
		return 0, domain.Validationf("number of frames must be positive, got %d", n)
	}
	index, src, err := e.currentAnnotation(side)
	if err != nil {
		return 0, err
	}
	total, err := e.store.Len(side)
	if err != nil {
		return 0, err
	}
	last := min(index+n, total-1)
	if last <= index {
		return 0, nil
	}
	targets := make([]int, 0, last-index)
	for i := index + 1; i <= last; i++ {
		targets = append(targets, i)
	}
	if err := e.record(side, targets...); err != nil {
		return 0, err
	}
	for _, i := range targets {
		if err := e.store.Set(side, i, src.Keypoints); err != nil {
			return 0, err
		}
	}
	e.setStatus("CopiedToNext", map[string]any{"Count": len(targets)})
	return len(targets), nil
}

func (e *EditSession) capture(side domain.Side) CaptureFunc {
	return func(indices []int) []SnapshotEntry {
		ret := make([]SnapshotEntry, 0, len(indices))
		for _, i := range indices {
			ann, err := e.store.Get(side, i)
			if err != nil {
				continue
			}
			ret = append(ret, SnapshotEntry{Index: i, Annotation: ann})
		}
		return ret
	}
}

func (e *EditSession) restore(s Snapshot) error {
	for _, entry := range s.Entries {
		if err := e.store.Put(s.Side, entry.Index, entry.Annotation); err != nil {
			return err
		}
	}
	e.sel = nil
	return nil
}

// Undo reverts the latest edit of side. It does not change the current
// image. ok is false when the history is empty.
func (e *EditSession) Undo(side domain.Side) (bool, error) {
	if _, err := e.store.side(side); err != nil {
		return false, err
	}
	e.finishDrag()
	s, ok := e.history.Undo(side, e.capture(side))
	if !ok {
		e.setStatus("NothingToUndo", nil)
		return false, nil
	}
	e.setStatus("Undone", nil)
	return true, e.restore(s)
}

func (e *EditSession) Redo(side domain.Side) (bool, error) {
	if _, err := e.store.side(side); err != nil {
		return false, err
	}
	e.finishDrag()
	s, ok := e.history.Redo(side, e.capture(side))
	if !ok {
		e.setStatus("NothingToRedo", nil)
		return false, nil
	}
	e.setStatus("Redone", nil)
	return true, e.restore(s)
}

// PointerDown starts a gesture at p according to the mode
func (e *EditSession) PointerDown(side domain.Side, p domain.Point) error {
	e.finishDrag()
	switch e.mode {
	case ModeAdd:
		_, _, err := e.AddAt(side, p)
		return err
	case ModeDelete:
		_, _, err := e.DeleteAt(side, p)
		return err
	}
	kp, ok, err := e.SelectNear(side, p)
	if err != nil || !ok {
		return err
	}
	index, _ := e.Current(side)
	before, err := e.store.Get(side, index)
	if err != nil {
		return err
	}
	e.drag = &drag{sel: selection{side: side, image: index, keypoint: kp}, before: before}
	return nil
}

// PointerMove drags the selected keypoint. Outside a drag it does nothing.
func (e *EditSession) PointerMove(p domain.Point) error {
	if e.drag == nil {
		return nil
	}
	return e.MoveSelected(p)
}

// PointerUp ends the gesture, leaving the keypoint selected
func (e *EditSession) PointerUp(p domain.Point) error {
	if e.drag == nil {
		return nil
	}
	var err error
	if e.drag.moved {
		err = e.MoveSelected(p)
	}
	e.drag = nil
	return err
}

func (e *EditSession) finishDrag() {
	e.drag = nil
}

// RenameKeypoints replaces the keypoint definition. It is rejected without
// changes when the names are invalid or their number differs.
func (e *EditSession) RenameKeypoints(def *domain.KeypointDefinition) error {
	if err := e.store.ReplaceDefinition(def); err != nil {
		return err
	}
	e.setStatus("KeypointsRenamed", nil)
	return nil
}

// ResetSide forgets navigation, selection and history of side, after its
// images or annotations were reloaded
func (e *EditSession) ResetSide(side domain.Side) {
	e.finishDrag()
	if e.sel != nil && e.sel.side == side {
		e.sel = nil
	}
	e.current[side] = 0
	e.history.Reset(side)
}

func (e *EditSession) SetSelectRadius(radius float64) {
	if radius > 0 {
		e.radius = radius
	}
}
