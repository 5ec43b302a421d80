package domain

import (
	"fmt"
	"strings"
)

// Visibility is the COCO tri-state label flag of a keypoint
type Visibility int

const (
	NotLabeled     Visibility = 0
	LabeledHidden  Visibility = 1
	LabeledVisible Visibility = 2
)

func (v Visibility) Valid() bool {
	return v >= NotLabeled && v <= LabeledVisible
}

func (v Visibility) String() string {
	switch v {
	case NotLabeled:
		return "not_labeled"
	case LabeledHidden:
		return "occluded"
	case LabeledVisible:
		return "visible"
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// Side identifies one of the annotation tracks (camera angles)
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Sides lists the tracks of the dual-side variant in display order
var Sides = []Side{Left, Right}

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Left:
		return Left, nil
	case Right:
		return Right, nil
	}
	return "", Validationf("unknown side %q", s)
}

// Point is a position in original image pixel space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Keypoint is one labeled landmark. Coordinates of a NotLabeled keypoint
// carry no meaning.
type Keypoint struct {
	Index      int        `json:"index"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Visibility Visibility `json:"visibility"`
}

func (k Keypoint) Labeled() bool {
	return k.Visibility != NotLabeled
}

// ImageAnnotation holds the keypoint slots of one image on one side.
// Keypoints is dense: slot i has Index i.
type ImageAnnotation struct {
	ImagePath string     `json:"image"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Keypoints []Keypoint `json:"keypoints"`
	// Orphaned marks a loaded record that no image on disk resolved to
	Orphaned bool `json:"orphaned,omitempty"`
}

// NewImageAnnotation creates an annotation with every slot NotLabeled
func NewImageAnnotation(ref ImageRef, size int) *ImageAnnotation {
	ann := &ImageAnnotation{
		ImagePath: ref.Path,
		Width:     ref.Width,
		Height:    ref.Height,
		Keypoints: make([]Keypoint, size),
	}
	for i := range ann.Keypoints {
		ann.Keypoints[i].Index = i
	}
	return ann
}

func (a *ImageAnnotation) Clone() *ImageAnnotation {
	if a == nil {
		return nil
	}
	c := *a
	c.Keypoints = append([]Keypoint(nil), a.Keypoints...)
	return &c
}

// LabeledCount returns how many slots are not NotLabeled
func (a *ImageAnnotation) LabeledCount() int {
	n := 0
	for _, kp := range a.Keypoints {
		if kp.Labeled() {
			n++
		}
	}
	return n
}

func (a *ImageAnnotation) IsAnnotated() bool {
	return a != nil && !a.Orphaned && a.LabeledCount() > 0
}

// Resize grows or shrinks the slot list to size, keeping existing slots
func (a *ImageAnnotation) Resize(size int) {
	if len(a.Keypoints) >= size {
		a.Keypoints = a.Keypoints[:size]
		return
	}
	for i := len(a.Keypoints); i < size; i++ {
		a.Keypoints = append(a.Keypoints, Keypoint{Index: i})
	}
}

// NormalizeKeypoints turns a possibly sparse keypoint list into dense slots.
// Entries must reference an index below size.
func NormalizeKeypoints(keypoints []Keypoint, size int) ([]Keypoint, error) {
	dense := make([]Keypoint, size)
	for i := range dense {
		dense[i].Index = i
	}
	for _, kp := range keypoints {
		if kp.Index < 0 || kp.Index >= size {
			return nil, Validationf("keypoint index %d out of range [0, %d)", kp.Index, size)
		}
		if !kp.Visibility.Valid() {
			return nil, Validationf("keypoint %d has invalid visibility %d", kp.Index, kp.Visibility)
		}
		dense[kp.Index] = kp
	}
	return dense, nil
}
