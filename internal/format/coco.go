package format

import (
	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// COCODataset is a COCO keypoint detection document
type COCODataset struct {
	Info        COCOInfo         `json:"info"`
	Licenses    []any            `json:"licenses"`
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []COCOCategory   `json:"categories"`
}

type COCOInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
	Year        int    `json:"year"`
}

type COCOImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type COCOAnnotation struct {
	ID           int        `json:"id"`
	ImageID      int        `json:"image_id"`
	CategoryID   int        `json:"category_id"`
	Keypoints    []float64  `json:"keypoints"`
	NumKeypoints int        `json:"num_keypoints"`
	BBox         [4]float64 `json:"bbox"`
	Area         float64    `json:"area"`
	IsCrowd      int        `json:"iscrowd"`
}

type COCOCategory struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Supercategory string   `json:"supercategory"`
	Keypoints     []string `json:"keypoints"`
	Skeleton      [][2]int `json:"skeleton"`
}

const cocoCategoryID = 1

// BoundingBox returns the tight [x, y, w, h] box over labeled keypoints.
// Without any labeled keypoint the box is all zeros.
func BoundingBox(ann *domain.ImageAnnotation) [4]float64 {
	var xs, ys []float64
	for _, kp := range ann.Keypoints {
		if !kp.Labeled() {
			continue
		}
		xs = append(xs, kp.X)
		ys = append(ys, kp.Y)
	}
	if len(xs) == 0 {
		return [4]float64{}
	}
	minX, minY := floats.Min(xs), floats.Min(ys)
	return [4]float64{minX, minY, floats.Max(xs) - minX, floats.Max(ys) - minY}
}

// ToCOCOAnnotation flattens ann into [x, y, v] triples in definition order
func ToCOCOAnnotation(ann *domain.ImageAnnotation, size int) COCOAnnotation {
	ret := COCOAnnotation{
		CategoryID: cocoCategoryID,
		Keypoints:  make([]float64, 0, size*3),
	}
	for i := 0; i < size; i++ {
		if i >= len(ann.Keypoints) || !ann.Keypoints[i].Labeled() {
			ret.Keypoints = append(ret.Keypoints, 0, 0, 0)
			continue
		}
		kp := ann.Keypoints[i]
		ret.Keypoints = append(ret.Keypoints, kp.X, kp.Y, float64(kp.Visibility))
		ret.NumKeypoints++
	}
	ret.BBox = BoundingBox(ann)
	ret.Area = ret.BBox[2] * ret.BBox[3]
	return ret
}

// ToCOCO builds a dataset with one image and one annotation record per
// annotation. The category section is emitted once.
func ToCOCO(def *domain.KeypointDefinition, anns []*domain.ImageAnnotation, info COCOInfo) *COCODataset {
	ds := &COCODataset{
		Info:        info,
		Licenses:    []any{},
		Images:      []COCOImage{},
		Annotations: []COCOAnnotation{},
		Categories: []COCOCategory{{
			ID:            cocoCategoryID,
			Name:          "person",
			Supercategory: "person",
			Keypoints:     append([]string(nil), def.Names...),
			Skeleton:      def.OneIndexedSkeleton(),
		}},
	}
	imageIDs := map[string]int{}
	for _, ann := range anns {
		if ann.ImagePath == "" {
			continue
		}
		imageID, ok := imageIDs[ann.ImagePath]
		if !ok {
			imageID = len(ds.Images) + 1
			imageIDs[ann.ImagePath] = imageID
			ds.Images = append(ds.Images, COCOImage{
				ID:       imageID,
				FileName: ann.ImagePath,
				Width:    ann.Width,
				Height:   ann.Height,
			})
		}
		rec := ToCOCOAnnotation(ann, def.Len())
		rec.ID = len(ds.Annotations) + 1
		rec.ImageID = imageID
		ds.Annotations = append(ds.Annotations, rec)
	}
	return ds
}

// FromCOCO converts a dataset back into annotations, one per image in image
// order. When an image has several annotation records the first one is used.
func FromCOCO(ds *COCODataset, def *domain.KeypointDefinition) ([]*domain.ImageAnnotation, error) {
	size := def.Len()
	byImage := map[int]*COCOAnnotation{}
	for i := range ds.Annotations {
		rec := &ds.Annotations[i]
		if len(rec.Keypoints)%3 != 0 {
			return nil, domain.Validationf("annotation %d has %d keypoint values, not a multiple of 3", rec.ID, len(rec.Keypoints))
		}
		if len(rec.Keypoints)/3 > size {
			return nil, domain.Validationf("annotation %d has %d keypoints, definition has %d", rec.ID, len(rec.Keypoints)/3, size)
		}
		if _, ok := byImage[rec.ImageID]; !ok {
			byImage[rec.ImageID] = rec
		}
	}

	ret := make([]*domain.ImageAnnotation, 0, len(ds.Images))
	for _, img := range ds.Images {
		ann := domain.NewImageAnnotation(domain.ImageRef{
			Path:   normalizeSeparators(img.FileName),
			Width:  img.Width,
			Height: img.Height,
		}, size)
		if rec, ok := byImage[img.ID]; ok {
			for i := 0; i < len(rec.Keypoints)/3; i++ {
				v := domain.Visibility(int(rec.Keypoints[i*3+2]))
				if !v.Valid() {
					return nil, domain.Validationf("annotation %d keypoint %d has invalid visibility %v", rec.ID, i, rec.Keypoints[i*3+2])
				}
				if v == domain.NotLabeled {
					continue
				}
				ann.Keypoints[i] = domain.Keypoint{Index: i, X: rec.Keypoints[i*3], Y: rec.Keypoints[i*3+1], Visibility: v}
			}
		}
		ret = append(ret, ann)
	}
	return ret, nil
}
