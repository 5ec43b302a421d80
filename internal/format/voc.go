package format

import (
	"encoding/xml"
	"path"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

type VOCAnnotation struct {
	XMLName   xml.Name    `xml:"annotation"`
	Folder    string      `xml:"folder"`
	Filename  string      `xml:"filename"`
	Path      string      `xml:"path"`
	Source    VOCSource   `xml:"source"`
	Size      VOCSize     `xml:"size"`
	Segmented int         `xml:"segmented"`
	Objects   []VOCObject `xml:"object"`
}

type VOCSource struct {
	Database string `xml:"database"`
}

type VOCSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
	Depth  int `xml:"depth"`
}

type VOCObject struct {
	Name      string        `xml:"name"`
	Pose      string        `xml:"pose"`
	Truncated int           `xml:"truncated"`
	Difficult int           `xml:"difficult"`
	Keypoints []VOCKeypoint `xml:"keypoints>keypoint"`
}

type VOCKeypoint struct {
	Name    string  `xml:"name,attr"`
	X       float64 `xml:"x,attr"`
	Y       float64 `xml:"y,attr"`
	Visible int     `xml:"visible,attr"`
}

// ToVOC builds the Pascal-VOC document of one image. ok is false when the
// annotation has no labeled keypoint.
func ToVOC(def *domain.KeypointDefinition, ann *domain.ImageAnnotation) (doc *VOCAnnotation, ok bool) {
	if ann.LabeledCount() == 0 {
		return nil, false
	}
	obj := VOCObject{Name: "person", Pose: "Unspecified"}
	for _, kp := range ann.Keypoints {
		if !kp.Labeled() {
			continue
		}
		obj.Keypoints = append(obj.Keypoints, VOCKeypoint{
			Name:    def.Name(kp.Index),
			X:       kp.X,
			Y:       kp.Y,
			Visible: int(kp.Visibility),
		})
	}
	return &VOCAnnotation{
		Folder:   "images",
		Filename: path.Base(normalizeSeparators(ann.ImagePath)),
		Path:     ann.ImagePath,
		Source:   VOCSource{Database: "Keypoint Labeler"},
		Size:     VOCSize{Width: ann.Width, Height: ann.Height, Depth: 3},
		Objects:  []VOCObject{obj},
	}, true
}

// MarshalVOC encodes doc with the XML header
func MarshalVOC(doc *VOCAnnotation) ([]byte, error) {
	data, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(data, '\n')...), nil
}
