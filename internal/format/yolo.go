package format

import (
	"fmt"
	"path"
	"strings"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

// YOLOLine renders one label line: class id followed by normalized x y
// pairs for every defined slot. Unlabeled slots are written as 0 0; the
// format carries presence only, not occlusion. ok is false when the
// annotation has no labeled keypoint.
func YOLOLine(ann *domain.ImageAnnotation, size int, classID int) (line string, ok bool, err error) {
	if ann.LabeledCount() == 0 {
		return "", false, nil
	}
	if ann.Width <= 0 || ann.Height <= 0 {
		return "", false, domain.Validationf("image %q has no dimensions to normalize against", ann.ImagePath)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d", classID)
	for i := 0; i < size; i++ {
		if i >= len(ann.Keypoints) || !ann.Keypoints[i].Labeled() {
			b.WriteString(" 0.000000 0.000000")
			continue
		}
		kp := ann.Keypoints[i]
		fmt.Fprintf(&b, " %.6f %.6f", clamp01(kp.X/float64(ann.Width)), clamp01(kp.Y/float64(ann.Height)))
	}
	b.WriteByte('\n')
	return b.String(), true, nil
}

// LabelFileName returns the per-image file name with ext replacing the
// image extension
func LabelFileName(imagePath, ext string) string {
	base := path.Base(normalizeSeparators(imagePath))
	return strings.TrimSuffix(base, path.Ext(base)) + ext
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
