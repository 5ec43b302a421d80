package domain

import "strconv"

// SkeletonEdge connects two keypoint indices (0-indexed)
type SkeletonEdge [2]int

// KeypointDefinition is the ordered list of keypoint names plus the skeleton.
// The index of a keypoint is its position in Names.
type KeypointDefinition struct {
	Names    []string       `json:"names" yaml:"names" toml:"names"`
	Skeleton []SkeletonEdge `json:"skeleton" yaml:"skeleton" toml:"skeleton"`
}

var defaultNames = []string{
	"head", "l_ear", "r_ear", "l_shoulder", "r_shoulder",
	"l_elbow", "r_elbow", "l_wrist", "r_wrist",
	"l_hip", "r_hip", "l_knee", "r_knee", "l_foot", "r_foot",
	"club_grip", "hand", "club_shaft", "club_hosel",
}

var defaultSkeleton = []SkeletonEdge{
	{0, 1}, {0, 2},
	{3, 4}, {4, 10}, {3, 9}, {9, 10},
	{3, 5}, {5, 7}, {4, 6}, {6, 8},
	{9, 11}, {11, 13}, {10, 12}, {12, 14},
	{15, 16}, {16, 17}, {17, 18},
}

// DefaultDefinition returns the golf swing keypoint set
func DefaultDefinition() *KeypointDefinition {
	return &KeypointDefinition{
		Names:    append([]string(nil), defaultNames...),
		Skeleton: append([]SkeletonEdge(nil), defaultSkeleton...),
	}
}

func (d *KeypointDefinition) Len() int {
	return len(d.Names)
}

// Name returns the name of keypoint i, or a KP<i> placeholder
func (d *KeypointDefinition) Name(i int) string {
	if i >= 0 && i < len(d.Names) {
		return d.Names[i]
	}
	return "KP" + strconv.Itoa(i)
}

func (d *KeypointDefinition) Clone() *KeypointDefinition {
	return &KeypointDefinition{
		Names:    append([]string(nil), d.Names...),
		Skeleton: append([]SkeletonEdge(nil), d.Skeleton...),
	}
}

// Validate checks that names are present and unique and that every skeleton
// edge references a defined keypoint
func (d *KeypointDefinition) Validate() error {
	if len(d.Names) == 0 {
		return Validationf("keypoint definition has no names")
	}
	seen := make(map[string]int, len(d.Names))
	for i, name := range d.Names {
		if name == "" {
			return Validationf("keypoint %d has an empty name", i)
		}
		if prev, ok := seen[name]; ok {
			return Validationf("keypoint name %q used by both %d and %d", name, prev, i)
		}
		seen[name] = i
	}
	for _, edge := range d.Skeleton {
		for _, idx := range edge {
			if idx < 0 || idx >= len(d.Names) {
				return Validationf("skeleton edge %v references undefined keypoint %d", edge, idx)
			}
		}
	}
	return nil
}

// Replace validates next as a replacement for d. Annotations keep their slot
// indices, so the keypoint count cannot change.
func (d *KeypointDefinition) Replace(next *KeypointDefinition) (*KeypointDefinition, error) {
	if next == nil {
		return nil, Validationf("empty keypoint definition")
	}
	if len(next.Names) != len(d.Names) {
		return nil, Validationf("definition has %d keypoints, expected %d", len(next.Names), len(d.Names))
	}
	candidate := next.Clone()
	if candidate.Skeleton == nil {
		candidate.Skeleton = append([]SkeletonEdge(nil), d.Skeleton...)
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	return candidate, nil
}

// OneIndexedSkeleton returns the skeleton the way COCO category metadata stores it
func (d *KeypointDefinition) OneIndexedSkeleton() [][2]int {
	ret := make([][2]int, len(d.Skeleton))
	for i, edge := range d.Skeleton {
		ret[i] = [2]int{edge[0] + 1, edge[1] + 1}
	}
	return ret
}
