// Package format converts image annotations between the internal keypoint
// model and the Standard, COCO, YOLO and Pascal-VOC serializations.
package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const standardSchemaURL = "standard-annotations.schema.json"

const standardSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["annotations"],
  "properties": {
    "info": {"type": "object"},
    "annotations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["image"],
        "properties": {
          "image": {"type": "string"},
          "width": {"type": "integer", "minimum": 0},
          "height": {"type": "integer", "minimum": 0},
          "keypoints": {
            "type": "array",
            "items": {
              "oneOf": [
                {"type": "null"},
                {"type": "array", "items": {"type": "number"}, "minItems": 2, "maxItems": 3}
              ]
            }
          }
        }
      }
    }
  }
}`

var standardValidator = jsonschema.MustCompileString(standardSchemaURL, standardSchema)

// StandardFile is the annotation document the labeler reads and writes
type StandardFile struct {
	Info        map[string]any   `json:"info,omitempty"`
	Annotations []StandardRecord `json:"annotations"`
}

// StandardRecord is one image entry. Keypoint entries are [x, y], [x, y, v]
// or null for an unlabeled slot.
type StandardRecord struct {
	Image     string      `json:"image"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Keypoints [][]float64 `json:"keypoints"`
}

// Kind names a detected input document type
type Kind string

const (
	KindStandard Kind = "standard"
	KindCOCO     Kind = "coco"
)

// ParseStandard validates data against the standard schema and decodes it
func ParseStandard(data []byte) (*StandardFile, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.Validationf("malformed annotation JSON: %s", err)
	}
	if err := standardValidator.Validate(raw); err != nil {
		return nil, domain.Validationf("annotation file does not match schema: %s", err)
	}
	var ret StandardFile
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, domain.Validationf("while decoding annotation file: %s", err)
	}
	return &ret, nil
}

// FromStandard converts a record into a dense annotation of size slots.
// Entries without a visibility are LabeledVisible.
func FromStandard(rec StandardRecord, size int) (*domain.ImageAnnotation, error) {
	if len(rec.Keypoints) > size {
		return nil, domain.Validationf("image %q has %d keypoints, definition has %d", rec.Image, len(rec.Keypoints), size)
	}
	ann := domain.NewImageAnnotation(domain.ImageRef{
		Path:   normalizeSeparators(rec.Image),
		Width:  rec.Width,
		Height: rec.Height,
	}, size)
	for i, entry := range rec.Keypoints {
		if entry == nil {
			continue
		}
		if len(entry) < 2 || len(entry) > 3 {
			return nil, domain.Validationf("image %q keypoint %d has %d values", rec.Image, i, len(entry))
		}
		v := domain.LabeledVisible
		if len(entry) == 3 {
			v = domain.Visibility(int(entry[2]))
			if !v.Valid() || float64(v) != entry[2] {
				return nil, domain.Validationf("image %q keypoint %d has invalid visibility %v", rec.Image, i, entry[2])
			}
		}
		ann.Keypoints[i] = domain.Keypoint{Index: i, X: entry[0], Y: entry[1], Visibility: v}
	}
	return ann, nil
}

// ToStandard converts an annotation into a record. Unlabeled slots become
// null and trailing ones are dropped. Without includeVisibility, visible
// keypoints are written as [x, y].
func ToStandard(ann *domain.ImageAnnotation, includeVisibility bool) StandardRecord {
	rec := StandardRecord{
		Image:     ann.ImagePath,
		Width:     ann.Width,
		Height:    ann.Height,
		Keypoints: [][]float64{},
	}
	last := -1
	for i, kp := range ann.Keypoints {
		if kp.Labeled() {
			last = i
		}
	}
	for i := 0; i <= last; i++ {
		kp := ann.Keypoints[i]
		switch {
		case !kp.Labeled():
			rec.Keypoints = append(rec.Keypoints, nil)
		case kp.Visibility == domain.LabeledVisible && !includeVisibility:
			rec.Keypoints = append(rec.Keypoints, []float64{kp.X, kp.Y})
		default:
			rec.Keypoints = append(rec.Keypoints, []float64{kp.X, kp.Y, float64(kp.Visibility)})
		}
	}
	return rec
}

// BuildStandardFile serializes annotations, refreshing num_images and
// num_keypoints when info is present
func BuildStandardFile(info map[string]any, anns []*domain.ImageAnnotation, includeVisibility bool) *StandardFile {
	ret := &StandardFile{Info: info, Annotations: make([]StandardRecord, 0, len(anns))}
	maxKeypoints := 0
	for _, ann := range anns {
		rec := ToStandard(ann, includeVisibility)
		if len(rec.Keypoints) > maxKeypoints {
			maxKeypoints = len(rec.Keypoints)
		}
		ret.Annotations = append(ret.Annotations, rec)
	}
	if info != nil {
		info["num_images"] = len(ret.Annotations)
		if len(ret.Annotations) > 0 {
			info["num_keypoints"] = maxKeypoints
		}
	}
	return ret
}

// Document is a decoded annotation file of either kind
type Document struct {
	Kind        Kind
	Info        map[string]any
	Annotations []*domain.ImageAnnotation
}

// ParseAnnotationFile detects whether data is a COCO dataset or a standard
// document and decodes it against def
func ParseAnnotationFile(data []byte, def *domain.KeypointDefinition) (*Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, domain.Validationf("malformed annotation JSON: %s", err)
	}
	_, hasImages := probe["images"]
	_, hasCategories := probe["categories"]
	if hasImages && hasCategories {
		var ds COCODataset
		if err := json.Unmarshal(data, &ds); err != nil {
			return nil, domain.Validationf("while decoding COCO dataset: %s", err)
		}
		anns, err := FromCOCO(&ds, def)
		if err != nil {
			return nil, err
		}
		return &Document{Kind: KindCOCO, Annotations: anns}, nil
	}

	file, err := ParseStandard(data)
	if err != nil {
		return nil, err
	}
	doc := &Document{Kind: KindStandard, Info: file.Info}
	for _, rec := range file.Annotations {
		ann, err := FromStandard(rec, def.Len())
		if err != nil {
			return nil, err
		}
		doc.Annotations = append(doc.Annotations, ann)
	}
	return doc, nil
}

// MarshalIndent writes v as indented JSON, the layout every export uses
func MarshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("while encoding JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
