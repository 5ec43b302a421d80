// Package export writes annotations and statistics to a filesystem. Every
// export either lands completely or leaves the previous files untouched.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/go-git/go-billy/v6"
	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/format"
)

const (
	YOLODir = "labels"
	VOCDir  = "annotations"
)

type Exporter struct {
	fs  billy.Filesystem
	def *domain.KeypointDefinition
}

func New(fs billy.Filesystem, def *domain.KeypointDefinition) *Exporter {
	return &Exporter{fs: fs, def: def}
}

// COCO writes one COCO dataset with every annotation. It returns the number
// of images in the dataset.
func (e *Exporter) COCO(name string, anns []*domain.ImageAnnotation, info format.COCOInfo) (int, error) {
	ds := format.ToCOCO(e.def, anns, info)
	data, err := format.MarshalIndent(ds)
	if err != nil {
		return 0, err
	}
	if err := WriteFileAtomic(e.fs, name, data); err != nil {
		return 0, domain.WrapIO("exporting COCO dataset", err)
	}
	log.Printf("export: COCO dataset with %d images written to %s", len(ds.Images), name)
	return len(ds.Images), nil
}

// Standard writes the editable annotation document
func (e *Exporter) Standard(name string, info map[string]any, anns []*domain.ImageAnnotation, includeVisibility bool) error {
	data, err := format.MarshalIndent(format.BuildStandardFile(info, anns, includeVisibility))
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(e.fs, name, data); err != nil {
		return domain.WrapIO("saving annotations", err)
	}
	return nil
}

type labelFile struct {
	name   string
	source string
	data   []byte
}

// writeAll stages every file and moves them into place together. Two
// images mapping to the same label file fail the export before anything
// is written.
func (e *Exporter) writeAll(what string, files []labelFile) error {
	var errs error
	seen := map[string]string{}
	for _, f := range files {
		if prev, ok := seen[f.name]; ok {
			errs = multierror.Append(errs, domain.Validationf("%s and %s both map to %s", prev, f.source, f.name))
			continue
		}
		seen[f.name] = f.source
	}
	if errs != nil {
		return fmt.Errorf("while %s: %w", what, errs)
	}
	b := newBatch(e.fs)
	for _, f := range files {
		if err := b.Add(f.name, f.data); err != nil {
			b.Discard()
			return domain.WrapIO(what, err)
		}
	}
	if err := b.Commit(); err != nil {
		return domain.WrapIO(what, err)
	}
	return nil
}

// YOLO writes one label file per annotated image under dir/labels
func (e *Exporter) YOLO(dir string, anns []*domain.ImageAnnotation) (int, error) {
	var files []labelFile
	var errs error
	for _, ann := range anns {
		if ann.Orphaned {
			continue
		}
		line, ok, err := format.YOLOLine(ann, e.def.Len(), 0)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", ann.ImagePath, err))
			continue
		}
		if !ok {
			continue
		}
		files = append(files, labelFile{
			name:   path.Join(dir, YOLODir, format.LabelFileName(ann.ImagePath, ".txt")),
			source: ann.ImagePath,
			data:   []byte(line),
		})
	}
	if errs != nil {
		return 0, fmt.Errorf("while exporting YOLO labels: %w", errs)
	}
	if err := e.writeAll("exporting YOLO labels", files); err != nil {
		return 0, err
	}
	log.Printf("export: %d YOLO label files written to %s", len(files), path.Join(dir, YOLODir))
	return len(files), nil
}

// VOC writes one Pascal-VOC document per annotated image under dir/annotations
func (e *Exporter) VOC(dir string, anns []*domain.ImageAnnotation) (int, error) {
	var files []labelFile
	for _, ann := range anns {
		if ann.Orphaned {
			continue
		}
		doc, ok := format.ToVOC(e.def, ann)
		if !ok {
			continue
		}
		data, err := format.MarshalVOC(doc)
		if err != nil {
			return 0, fmt.Errorf("while encoding %s: %w", ann.ImagePath, err)
		}
		files = append(files, labelFile{
			name:   path.Join(dir, VOCDir, format.LabelFileName(ann.ImagePath, ".xml")),
			source: ann.ImagePath,
			data:   data,
		})
	}
	if err := e.writeAll("exporting Pascal-VOC annotations", files); err != nil {
		return 0, err
	}
	log.Printf("export: %d Pascal-VOC files written to %s", len(files), path.Join(dir, VOCDir))
	return len(files), nil
}

// Statistics writes the report in the format named by the extension of
// name: .json, .txt, .csv, .html or .md
func (e *Exporter) Statistics(name string, report *format.Report) error {
	var buf bytes.Buffer
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".json":
		var v any = report.Statistics()
		if len(report.Sides) == 1 {
			v = report.Sides[0].Stats
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("while encoding statistics: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	case ".txt":
		if err := format.WriteText(&buf, report); err != nil {
			return err
		}
	case ".csv":
		if err := format.WriteCSV(&buf, report); err != nil {
			return err
		}
	case ".html", ".htm":
		buf.Write(format.RenderHTML(report))
	case ".md":
		buf.WriteString(format.Markdown(report))
	default:
		return domain.Validationf("unsupported statistics format %q", ext)
	}
	if err := WriteFileAtomic(e.fs, name, buf.Bytes()); err != nil {
		return domain.WrapIO("exporting statistics", err)
	}
	return nil
}
