package domain

import (
	"context"
)

// ExportStatistics is a derived aggregate over one side of the store
type ExportStatistics struct {
	TotalImages              int                `json:"total_images"`
	AnnotatedImages          int                `json:"annotated_images"`
	TotalKeypoints           int                `json:"total_keypoints"`
	AverageKeypointsPerImage float64            `json:"average_keypoints_per_image"`
	VisibilityCounts         map[Visibility]int `json:"visibility_counts"`
	CompletionPercentage     float64            `json:"completion_percentage"`
}

// SideRecord is an image annotation as persisted for one side, including its
// position in the side's image order
type SideRecord struct {
	Position   int
	Annotation *ImageAnnotation
}

// AnnotationRepository defines the interface for project database storage
type AnnotationRepository interface {
	// SaveSide replaces every stored record of side
	SaveSide(ctx context.Context, side Side, records []SideRecord) error

	// LoadSide returns the stored records of side ordered by position, orphans last
	LoadSide(ctx context.Context, side Side) ([]SideRecord, error)

	// CountAnnotated returns how many bound images of side have a labeled keypoint
	CountAnnotated(ctx context.Context, side Side) (int64, error)
}
