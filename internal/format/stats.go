package format

import (
	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

// ComputeStatistics reduces the annotations of one side. totalImages is the
// number of images loaded for the side; orphaned records are ignored.
// Unlabeled slots are absent keypoints, so visibility 0 is never counted.
func ComputeStatistics(totalImages int, anns []*domain.ImageAnnotation) domain.ExportStatistics {
	stats := domain.ExportStatistics{
		TotalImages: totalImages,
		VisibilityCounts: map[domain.Visibility]int{
			domain.NotLabeled:     0,
			domain.LabeledHidden:  0,
			domain.LabeledVisible: 0,
		},
	}
	for _, ann := range anns {
		if !ann.IsAnnotated() {
			continue
		}
		stats.AnnotatedImages++
		for _, kp := range ann.Keypoints {
			if !kp.Labeled() {
				continue
			}
			stats.VisibilityCounts[kp.Visibility]++
			stats.TotalKeypoints++
		}
	}
	if stats.AnnotatedImages > 0 {
		stats.AverageKeypointsPerImage = float64(stats.TotalKeypoints) / float64(stats.AnnotatedImages)
	}
	if totalImages > 0 {
		stats.CompletionPercentage = float64(stats.AnnotatedImages) / float64(totalImages) * 100
	}
	return stats
}
