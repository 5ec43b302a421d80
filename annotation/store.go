package annotation

import (
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

type sideState struct {
	images  []domain.ImageRef
	anns    map[int]*domain.ImageAnnotation
	orphans []*domain.ImageAnnotation
	dirty   bool
}

// Store is the in-memory source of truth for the keypoints of every side.
// It is not safe for concurrent use; the Dispatcher serializes access.
type Store struct {
	def   *domain.KeypointDefinition
	order []domain.Side
	sides map[domain.Side]*sideState
}

// NewStore creates a store for the given sides. With no sides it opens the
// dual-side layout.
func NewStore(def *domain.KeypointDefinition, sides ...domain.Side) *Store {
	if len(sides) == 0 {
		sides = domain.Sides
	}
	s := &Store{def: def, sides: map[domain.Side]*sideState{}}
	for _, side := range sides {
		if _, ok := s.sides[side]; ok {
			continue
		}
		s.order = append(s.order, side)
		s.sides[side] = &sideState{anns: map[int]*domain.ImageAnnotation{}}
	}
	return s
}

func (s *Store) Sides() []domain.Side {
	return append([]domain.Side(nil), s.order...)
}

func (s *Store) Definition() *domain.KeypointDefinition {
	return s.def
}

func (s *Store) side(side domain.Side) (*sideState, error) {
	st, ok := s.sides[side]
	if !ok {
		return nil, domain.NotFoundf("side %q is not open", side)
	}
	return st, nil
}

func (s *Store) slot(side domain.Side, index int) (*sideState, error) {
	st, err := s.side(side)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(st.images) {
		return nil, domain.Indexf("image %d of %s side, %d loaded", index, side, len(st.images))
	}
	return st, nil
}

// LoadImages replaces the image list of side, dropping its annotations
func (s *Store) LoadImages(side domain.Side, images []domain.ImageRef) error {
	st, err := s.side(side)
	if err != nil {
		return err
	}
	st.images = append([]domain.ImageRef(nil), images...)
	st.anns = map[int]*domain.ImageAnnotation{}
	st.orphans = nil
	st.dirty = false
	return nil
}

func (s *Store) Len(side domain.Side) (int, error) {
	st, err := s.side(side)
	if err != nil {
		return 0, err
	}
	return len(st.images), nil
}

func (s *Store) Image(side domain.Side, index int) (domain.ImageRef, error) {
	st, err := s.slot(side, index)
	if err != nil {
		return domain.ImageRef{}, err
	}
	return st.images[index], nil
}

func (s *Store) Images(side domain.Side) ([]domain.ImageRef, error) {
	st, err := s.side(side)
	if err != nil {
		return nil, err
	}
	return append([]domain.ImageRef(nil), st.images...), nil
}

func (s *Store) entry(st *sideState, index int) *domain.ImageAnnotation {
	ann, ok := st.anns[index]
	if !ok {
		ann = domain.NewImageAnnotation(st.images[index], s.def.Len())
		st.anns[index] = ann
	}
	return ann
}

// Get returns a copy of the annotation of an image, creating an empty one
// when the image has none yet
func (s *Store) Get(side domain.Side, index int) (*domain.ImageAnnotation, error) {
	st, err := s.slot(side, index)
	if err != nil {
		return nil, err
	}
	return s.entry(st, index).Clone(), nil
}

// Set replaces the keypoints of an image wholesale. keypoints may be sparse.
func (s *Store) Set(side domain.Side, index int, keypoints []domain.Keypoint) error {
	st, err := s.slot(side, index)
	if err != nil {
		return err
	}
	dense, err := domain.NormalizeKeypoints(keypoints, s.def.Len())
	if err != nil {
		return err
	}
	s.entry(st, index).Keypoints = dense
	st.dirty = true
	return nil
}

// Put stores a whole annotation, keeping the image reference of the slot
func (s *Store) Put(side domain.Side, index int, ann *domain.ImageAnnotation) error {
	st, err := s.slot(side, index)
	if err != nil {
		return err
	}
	next := ann.Clone()
	next.ImagePath = st.images[index].Path
	next.Orphaned = false
	next.Resize(s.def.Len())
	st.anns[index] = next
	st.dirty = true
	return nil
}

func (s *Store) IsAnnotated(side domain.Side, index int) (bool, error) {
	st, err := s.slot(side, index)
	if err != nil {
		return false, err
	}
	ann, ok := st.anns[index]
	return ok && ann.IsAnnotated(), nil
}

// Annotations returns copies of the annotations of side in image order.
// Images never touched are left out.
func (s *Store) Annotations(side domain.Side) ([]*domain.ImageAnnotation, error) {
	st, err := s.side(side)
	if err != nil {
		return nil, err
	}
	ret := make([]*domain.ImageAnnotation, 0, len(st.anns))
	for i := range st.images {
		if ann, ok := st.anns[i]; ok {
			ret = append(ret, ann.Clone())
		}
	}
	return ret, nil
}

func (s *Store) Orphans(side domain.Side) ([]*domain.ImageAnnotation, error) {
	st, err := s.side(side)
	if err != nil {
		return nil, err
	}
	ret := make([]*domain.ImageAnnotation, len(st.orphans))
	for i, o := range st.orphans {
		ret[i] = o.Clone()
	}
	return ret, nil
}

// Records returns the annotations of side with their positions, orphans
// with position -1
func (s *Store) Records(side domain.Side) ([]domain.SideRecord, error) {
	st, err := s.side(side)
	if err != nil {
		return nil, err
	}
	var ret []domain.SideRecord
	for i := range st.images {
		if ann, ok := st.anns[i]; ok {
			ret = append(ret, domain.SideRecord{Position: i, Annotation: ann.Clone()})
		}
	}
	for _, o := range st.orphans {
		ret = append(ret, domain.SideRecord{Position: -1, Annotation: o.Clone()})
	}
	return ret, nil
}

func (s *Store) Dirty(side domain.Side) bool {
	st, ok := s.sides[side]
	return ok && st.dirty
}

func (s *Store) MarkClean(side domain.Side) {
	if st, ok := s.sides[side]; ok {
		st.dirty = false
	}
}

// ReplaceDefinition swaps the keypoint definition. The keypoint count must
// not change.
func (s *Store) ReplaceDefinition(def *domain.KeypointDefinition) error {
	next, err := s.def.Replace(def)
	if err != nil {
		return err
	}
	s.def = next
	for _, st := range s.sides {
		st.dirty = true
	}
	return nil
}

// BindResult summarizes a Bind call
type BindResult struct {
	Matched    int                   `json:"matched"`
	Orphaned   int                   `json:"orphaned"`
	Strategies map[MatchStrategy]int `json:"strategies"`
}

// Bind attaches loaded annotation records to the images of side. Records no
// image resolves to are kept as orphans, together with orphans of earlier
// calls that still do not resolve. When several records resolve to the same
// image the first one is bound and the others are kept as orphans. Invalid
// records are skipped and reported in the returned error while the valid ones
// are bound.
func (s *Store) Bind(side domain.Side, records []*domain.ImageAnnotation) (BindResult, error) {
	result := BindResult{Strategies: map[MatchStrategy]int{}}
	st, err := s.side(side)
	if err != nil {
		return result, err
	}
	paths := make([]string, len(st.images))
	positions := make(map[string]int, len(st.images))
	for i, img := range st.images {
		paths[i] = img.Path
		positions[img.Path] = i
	}
	matcher := NewPathMatcher(paths)

	var errs error
	bound := map[int]string{}
	pending := append(append([]*domain.ImageAnnotation(nil), st.orphans...), records...)
	st.orphans = nil
	for _, rec := range pending {
		if rec == nil {
			continue
		}
		if len(rec.Keypoints) > s.def.Len() {
			errs = multierror.Append(errs, domain.Validationf("%s: %d keypoints, definition has %d", rec.ImagePath, len(rec.Keypoints), s.def.Len()))
			continue
		}
		ann := rec.Clone()
		ann.Resize(s.def.Len())
		match, ok := matcher.Resolve(ann.ImagePath)
		if !ok {
			ann.Orphaned = true
			st.orphans = append(st.orphans, ann)
			result.Orphaned++
			continue
		}
		index := positions[match.Path]
		if first, taken := bound[index]; taken {
			log.Printf("store: %s: record %s also resolves to %s, bound to %s; keeping it unmatched", side, ann.ImagePath, match.Path, first)
			ann.Orphaned = true
			st.orphans = append(st.orphans, ann)
			result.Orphaned++
			continue
		}
		bound[index] = ann.ImagePath
		img := st.images[index]
		ann.ImagePath = img.Path
		ann.Orphaned = false
		if img.Width > 0 && img.Height > 0 {
			ann.Width, ann.Height = img.Width, img.Height
		}
		if _, exists := st.anns[index]; exists && st.anns[index].LabeledCount() > 0 {
			log.Printf("store: %s: record %s replaces existing keypoints of %s", side, rec.ImagePath, img.Path)
		}
		st.anns[index] = ann
		result.Matched++
		result.Strategies[match.Strategy]++
	}
	if result.Orphaned > 0 {
		log.Printf("store: %s: %d annotation records did not match any image", side, result.Orphaned)
	}
	if errs != nil {
		return result, fmt.Errorf("while binding annotations of %s side: %w", side, errs)
	}
	return result, nil
}
