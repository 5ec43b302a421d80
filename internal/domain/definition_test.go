package domain

import (
	"errors"
	"testing"
)

func TestDefaultDefinition(t *testing.T) {
	def := DefaultDefinition()
	if def.Len() != 19 {
		t.Fatalf("Len() = %d, want 19", def.Len())
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if def.Name(15) != "club_grip" {
		t.Errorf("Name(15) = %q, want club_grip", def.Name(15))
	}
	if def.Name(40) != "KP40" {
		t.Errorf("Name(40) = %q, want KP40", def.Name(40))
	}

	one := def.OneIndexedSkeleton()
	if one[0] != [2]int{1, 2} {
		t.Errorf("first 1-indexed edge = %v, want [1 2]", one[0])
	}
}

func TestKeypointDefinition_Replace(t *testing.T) {
	base := &KeypointDefinition{
		Names:    []string{"a", "b", "c"},
		Skeleton: []SkeletonEdge{{0, 1}, {1, 2}},
	}

	t.Run("renames keeping skeleton", func(t *testing.T) {
		next, err := base.Replace(&KeypointDefinition{Names: []string{"x", "y", "z"}})
		if err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
		if next.Names[2] != "z" {
			t.Errorf("Names[2] = %q, want z", next.Names[2])
		}
		if len(next.Skeleton) != 2 {
			t.Errorf("Skeleton has %d edges, want 2", len(next.Skeleton))
		}
		if base.Names[0] != "a" {
			t.Error("Replace mutated the original definition")
		}
	})

	cases := []struct {
		name string
		next *KeypointDefinition
	}{
		{"duplicate names", &KeypointDefinition{Names: []string{"x", "x", "z"}}},
		{"empty name", &KeypointDefinition{Names: []string{"x", "", "z"}}},
		{"changed count", &KeypointDefinition{Names: []string{"x", "y"}}},
		{"edge out of range", &KeypointDefinition{Names: []string{"x", "y", "z"}, Skeleton: []SkeletonEdge{{0, 3}}}},
		{"nil", nil},
	}
	for _, tc := range cases {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			_, err := base.Replace(tc.next)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Replace() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestNormalizeKeypoints(t *testing.T) {
	dense, err := NormalizeKeypoints([]Keypoint{{Index: 2, X: 1, Y: 2, Visibility: LabeledVisible}}, 4)
	if err != nil {
		t.Fatalf("NormalizeKeypoints() error = %v", err)
	}
	if len(dense) != 4 {
		t.Fatalf("got %d slots, want 4", len(dense))
	}
	for i, kp := range dense {
		if kp.Index != i {
			t.Errorf("slot %d has Index %d", i, kp.Index)
		}
	}
	if !dense[2].Labeled() || dense[0].Labeled() {
		t.Error("only slot 2 should be labeled")
	}

	_, err = NormalizeKeypoints([]Keypoint{{Index: 4}}, 4)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("out of range index error = %v, want ErrValidation", err)
	}
	_, err = NormalizeKeypoints([]Keypoint{{Index: 0, Visibility: 7}}, 4)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("bad visibility error = %v, want ErrValidation", err)
	}
}

func TestParseSide(t *testing.T) {
	side, err := ParseSide(" Right ")
	if err != nil || side != Right {
		t.Errorf("ParseSide(Right) = %v, %v", side, err)
	}
	if _, err := ParseSide("middle"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseSide(middle) error = %v, want ErrValidation", err)
	}
}
