package annotation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/export"
	"github.com/lewtec/rotulador-keypoints/internal/format"
)

type sideFiles struct {
	imagesDir      string
	annotationFile string
	info           map[string]any
}

// LabelerApp is the command surface front-ends drive. It owns the store
// and the edit session and persists them to annotation files and the
// project database.
type LabelerApp struct {
	Config      *Config
	Session     *EditSession
	Annotations domain.AnnotationRepository
	Images      domain.ImageRepository
	Settings    domain.SettingsRepository

	format format.Kind
	files  map[domain.Side]*sideFiles
	now    func() time.Time
}

// NewLabelerApp builds the app for cfg. Repositories may be nil.
func NewLabelerApp(cfg *Config, annotations domain.AnnotationRepository, images domain.ImageRepository, settings domain.SettingsRepository) (*LabelerApp, error) {
	def, err := cfg.Definition()
	if err != nil {
		return nil, err
	}
	store := NewStore(def, cfg.SideList()...)
	a := &LabelerApp{
		Config:      cfg,
		Session:     NewEditSession(store, cfg.SessionOptions()),
		Annotations: annotations,
		Images:      images,
		Settings:    settings,
		format:      format.Kind(cfg.Edit.Format),
		files:       map[domain.Side]*sideFiles{},
		now:         time.Now,
	}
	for _, side := range store.Sides() {
		a.files[side] = &sideFiles{}
	}
	SetLanguage(cfg.Language)
	return a, nil
}

func (a *LabelerApp) Store() *Store {
	return a.Session.Store()
}

func (a *LabelerApp) sideFiles(side domain.Side) (*sideFiles, error) {
	f, ok := a.files[side]
	if !ok {
		return nil, domain.NotFoundf("side %q is not open", side)
	}
	return f, nil
}

// Open loads the images and annotations of every configured side. A missing
// annotation file falls back to the project database.
func (a *LabelerApp) Open(ctx context.Context) error {
	for _, side := range a.Store().Sides() {
		sc := a.Config.Side(side)
		if _, err := a.OpenImages(ctx, side, a.Config.ResolvePath(sc.Images)); err != nil {
			return err
		}
		annotationFile := a.Config.ResolvePath(sc.Annotations)
		if annotationFile != "" {
			a.files[side].annotationFile = annotationFile
			_, err := a.LoadAnnotations(ctx, side, annotationFile)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			log.Printf("LabelerApp: %s: no annotation file at %s yet", side, annotationFile)
		}
		if a.Annotations != nil {
			if _, err := a.LoadFromRepository(ctx, side); err != nil {
				return err
			}
		}
	}
	return nil
}

// OpenImages lists the images of dir as the images of side
func (a *LabelerApp) OpenImages(ctx context.Context, side domain.Side, dir string) (int, error) {
	files, err := a.sideFiles(side)
	if err != nil {
		return 0, err
	}
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return 0, domain.NotFoundf("images folder '%s'", dir)
	}
	images, err := ScanImages(dir)
	if err != nil {
		return 0, err
	}
	if err := a.Store().LoadImages(side, images); err != nil {
		return 0, err
	}
	a.Session.ResetSide(side)
	files.imagesDir = dir
	if a.Images != nil {
		if err := a.Images.SyncImages(ctx, side, images); err != nil {
			return 0, err
		}
	}
	a.remember(ctx, "last_folder."+string(side), dir)
	log.Printf("LabelerApp: %s: %d images in %s", side, len(images), dir)
	a.Session.setStatus("ImagesLoaded", map[string]any{"Count": len(images), "Side": string(side)})
	return len(images), nil
}

func (a *LabelerApp) remember(ctx context.Context, key, value string) {
	if a.Settings == nil {
		return
	}
	if err := a.Settings.SetSetting(ctx, key, value); err != nil {
		log.Printf("LabelerApp: while saving setting %s: %s", key, err)
	}
}

// LastFolder returns the images folder last opened for side
func (a *LabelerApp) LastFolder(ctx context.Context, side domain.Side) (string, bool, error) {
	if a.Settings == nil {
		return "", false, nil
	}
	return a.Settings.GetSetting(ctx, "last_folder."+string(side))
}

func (a *LabelerApp) bind(side domain.Side, records []*domain.ImageAnnotation) (BindResult, error) {
	result, err := a.Store().Bind(side, records)
	if err != nil && result.Matched == 0 && result.Orphaned == 0 {
		return result, err
	}
	if err != nil {
		log.Printf("LabelerApp: %s: %s", side, err)
	}
	a.Session.ResetSide(side)
	a.Session.setStatus("AnnotationsLoaded", map[string]any{
		"Matched":  result.Matched,
		"Orphaned": result.Orphaned,
		"Side":     string(side),
	})
	return result, nil
}

// LoadAnnotations reads a Standard or COCO file and binds it to the images of side
func (a *LabelerApp) LoadAnnotations(ctx context.Context, side domain.Side, filename string) (BindResult, error) {
	files, err := a.sideFiles(side)
	if err != nil {
		return BindResult{}, err
	}
	data, err := os.ReadFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return BindResult{}, domain.NotFoundf("annotation file '%s'", filename)
	}
	if err != nil {
		return BindResult{}, domain.WrapIO(fmt.Sprintf("reading '%s'", filename), err)
	}
	doc, err := format.ParseAnnotationFile(data, a.Store().Definition())
	if err != nil {
		return BindResult{}, fmt.Errorf("while loading '%s': %w", filename, err)
	}
	result, err := a.bind(side, doc.Annotations)
	if err != nil {
		return result, err
	}
	files.annotationFile = filename
	files.info = doc.Info
	a.Store().MarkClean(side)
	log.Printf("LabelerApp: %s: %s annotations from %s, %d matched, %d unmatched", side, doc.Kind, filename, result.Matched, result.Orphaned)
	return result, nil
}

// LoadFromRepository binds the records stored in the project database
func (a *LabelerApp) LoadFromRepository(ctx context.Context, side domain.Side) (BindResult, error) {
	if a.Annotations == nil {
		return BindResult{}, nil
	}
	records, err := a.Annotations.LoadSide(ctx, side)
	if err != nil {
		return BindResult{}, err
	}
	anns := make([]*domain.ImageAnnotation, len(records))
	for i, rec := range records {
		anns[i] = rec.Annotation
	}
	result, err := a.bind(side, anns)
	if err != nil {
		return result, err
	}
	a.Store().MarkClean(side)
	return result, nil
}

// SetAnnotationFile changes where Save writes the annotations of side
func (a *LabelerApp) SetAnnotationFile(side domain.Side, filename string) error {
	files, err := a.sideFiles(side)
	if err != nil {
		return err
	}
	files.annotationFile = filename
	return nil
}

func (a *LabelerApp) Format() format.Kind {
	return a.format
}

func (a *LabelerApp) SetFormat(kind format.Kind) error {
	switch kind {
	case format.KindStandard, format.KindCOCO:
		a.format = kind
		return nil
	}
	return domain.Validationf("unknown annotation format %q", kind)
}

// CompanionPath returns the COCO file written next to a standard annotation file
func CompanionPath(annotationFile string) string {
	ext := filepath.Ext(annotationFile)
	return strings.TrimSuffix(annotationFile, ext) + "_coco.json"
}

func (a *LabelerApp) exporterFor(target string) (*export.Exporter, string) {
	dir, name := filepath.Split(target)
	if dir == "" {
		dir = "."
	}
	return export.New(osfs.New(dir), a.Store().Definition()), name
}

func (a *LabelerApp) cocoInfo() format.COCOInfo {
	description := a.Config.Meta.Description
	if description == "" {
		description = "Keypoint annotations"
	}
	return format.COCOInfo{Description: strings.TrimSpace(description), Version: "1.0", Year: a.now().Year()}
}

// Save writes the annotations of side to its annotation file, the COCO
// companion in COCO mode, and the project database
func (a *LabelerApp) Save(ctx context.Context, side domain.Side) error {
	files, err := a.sideFiles(side)
	if err != nil {
		return err
	}
	records, err := a.Store().Records(side)
	if err != nil {
		return err
	}
	if files.annotationFile != "" {
		anns := make([]*domain.ImageAnnotation, len(records))
		for i, rec := range records {
			anns[i] = rec.Annotation
		}
		e, name := a.exporterFor(files.annotationFile)
		if err := e.Standard(name, files.info, anns, true); err != nil {
			return err
		}
		if a.format == format.KindCOCO {
			bound, err := a.Store().Annotations(side)
			if err != nil {
				return err
			}
			e, name := a.exporterFor(CompanionPath(files.annotationFile))
			if _, err := e.COCO(name, bound, a.cocoInfo()); err != nil {
				return err
			}
		}
	}
	if a.Annotations != nil {
		if err := a.Annotations.SaveSide(ctx, side, records); err != nil {
			return err
		}
	}
	a.Store().MarkClean(side)
	a.Session.setStatus("Saved", map[string]any{"Side": string(side), "Path": files.annotationFile})
	log.Printf("LabelerApp: %s: saved %d records", side, len(records))
	return nil
}

func (a *LabelerApp) Dirty() bool {
	for _, side := range a.Store().Sides() {
		if a.Store().Dirty(side) {
			return true
		}
	}
	return false
}

// SaveDirty saves every side with unsaved changes
func (a *LabelerApp) SaveDirty(ctx context.Context) error {
	var errs error
	for _, side := range a.Store().Sides() {
		if !a.Store().Dirty(side) {
			continue
		}
		if err := a.Save(ctx, side); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", side, err))
		}
	}
	return errs
}

// ExportCOCO writes the annotations of side as a COCO dataset at target
func (a *LabelerApp) ExportCOCO(side domain.Side, target string) (int, error) {
	anns, err := a.Store().Annotations(side)
	if err != nil {
		return 0, err
	}
	e, name := a.exporterFor(target)
	n, err := e.COCO(name, anns, a.cocoInfo())
	if err != nil {
		return 0, err
	}
	a.Session.setStatus("Exported", map[string]any{"Count": n, "Path": target})
	return n, nil
}

// ExportYOLO writes one label file per annotated image of side under dir/labels
func (a *LabelerApp) ExportYOLO(side domain.Side, dir string) (int, error) {
	anns, err := a.Store().Annotations(side)
	if err != nil {
		return 0, err
	}
	n, err := export.New(osfs.New(dir), a.Store().Definition()).YOLO("", anns)
	if err != nil {
		return 0, err
	}
	a.Session.setStatus("Exported", map[string]any{"Count": n, "Path": filepath.Join(dir, export.YOLODir)})
	return n, nil
}

// ExportVOC writes one Pascal-VOC document per annotated image of side under dir/annotations
func (a *LabelerApp) ExportVOC(side domain.Side, dir string) (int, error) {
	anns, err := a.Store().Annotations(side)
	if err != nil {
		return 0, err
	}
	n, err := export.New(osfs.New(dir), a.Store().Definition()).VOC("", anns)
	if err != nil {
		return 0, err
	}
	a.Session.setStatus("Exported", map[string]any{"Count": n, "Path": filepath.Join(dir, export.VOCDir)})
	return n, nil
}

// Report computes the statistics of every side
func (a *LabelerApp) Report() (*format.Report, error) {
	report := &format.Report{GeneratedAt: a.now(), Definition: a.Store().Definition()}
	for _, side := range a.Store().Sides() {
		total, err := a.Store().Len(side)
		if err != nil {
			return nil, err
		}
		anns, err := a.Store().Annotations(side)
		if err != nil {
			return nil, err
		}
		report.Sides = append(report.Sides, format.BuildSideReport(side, total, anns))
	}
	return report, nil
}

// ExportStatistics writes the report to target, its format chosen by extension
func (a *LabelerApp) ExportStatistics(target string) error {
	report, err := a.Report()
	if err != nil {
		return err
	}
	e, name := a.exporterFor(target)
	if err := e.Statistics(name, report); err != nil {
		return err
	}
	a.Session.setStatus("Exported", map[string]any{"Count": len(report.Sides), "Path": target})
	return nil
}

// Navigate moves side by delta, or every side when synced. Sides already at
// the end stay put; ErrIndex is returned only when nothing moved.
func (a *LabelerApp) Navigate(side domain.Side, delta int, synced bool) error {
	sides := []domain.Side{side}
	if synced {
		sides = a.Store().Sides()
	}
	var firstErr error
	moved := false
	for _, s := range sides {
		err := a.Session.Step(s, delta)
		if err == nil {
			moved = true
			continue
		}
		if !errors.Is(err, domain.ErrIndex) {
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if !moved {
		return firstErr
	}
	return nil
}

// MatchFramesByFilename shows on every side the first image of the first
// side whose file name exists on all sides
func (a *LabelerApp) MatchFramesByFilename() (string, error) {
	sides := a.Store().Sides()
	if len(sides) < 2 {
		return "", nil
	}
	positions := make([]map[string]int, len(sides))
	for i, side := range sides {
		images, err := a.Store().Images(side)
		if err != nil {
			return "", err
		}
		positions[i] = map[string]int{}
		for j, img := range images {
			name := filepath.Base(filepath.FromSlash(img.Path))
			if _, ok := positions[i][name]; !ok {
				positions[i][name] = j
			}
		}
	}
	first, err := a.Store().Images(sides[0])
	if err != nil {
		return "", err
	}
	for _, img := range first {
		name := filepath.Base(filepath.FromSlash(img.Path))
		found := true
		for _, p := range positions[1:] {
			if _, ok := p[name]; !ok {
				found = false
				break
			}
		}
		if !found {
			continue
		}
		for i, side := range sides {
			if err := a.Session.SelectImage(side, positions[i][name]); err != nil {
				return "", err
			}
		}
		a.Session.setStatus("FramesMatched", map[string]any{"Name": name})
		return name, nil
	}
	a.Session.setStatus("NoCommonFrames", nil)
	return "", domain.NotFoundf("no file name common to every side")
}

// ApplyConfig takes a reloaded config. Keypoint names and edit settings are
// applied; side folders only change on restart.
func (a *LabelerApp) ApplyConfig(cfg *Config) error {
	def, err := cfg.Definition()
	if err != nil {
		return err
	}
	current := a.Store().Definition()
	if strings.Join(def.Names, "\x00") != strings.Join(current.Names, "\x00") {
		if err := a.Session.RenameKeypoints(def); err != nil {
			return err
		}
		log.Printf("LabelerApp: keypoint names reloaded")
	}
	a.Session.SetSelectRadius(cfg.Edit.SelectRadius)
	if err := a.SetFormat(format.Kind(cfg.Edit.Format)); err != nil {
		return err
	}
	SetLanguage(cfg.Language)
	a.Config = cfg
	return nil
}

// StateView is what a front-end needs to draw one side
type StateView struct {
	Side       domain.Side             `json:"side"`
	Index      int                     `json:"index"`
	Total      int                     `json:"total"`
	Image      *domain.ImageRef        `json:"image,omitempty"`
	Annotation *domain.ImageAnnotation `json:"annotation,omitempty"`
	Names      []string                `json:"names"`
	Skeleton   []domain.SkeletonEdge   `json:"skeleton"`
	Mode       Mode                    `json:"mode"`
	Selected   *int                    `json:"selected,omitempty"`
	Undo       int                     `json:"undo"`
	Redo       int                     `json:"redo"`
	Dirty      bool                    `json:"dirty"`
	Format     format.Kind             `json:"format"`
}

func (a *LabelerApp) State(side domain.Side) (*StateView, error) {
	index, err := a.Session.Current(side)
	if err != nil {
		return nil, err
	}
	total, err := a.Store().Len(side)
	if err != nil {
		return nil, err
	}
	def := a.Store().Definition()
	view := &StateView{
		Side:     side,
		Index:    index,
		Total:    total,
		Names:    def.Names,
		Skeleton: def.Skeleton,
		Mode:     a.Session.Mode(),
		Dirty:    a.Store().Dirty(side),
		Format:   a.format,
	}
	view.Undo, view.Redo = a.Session.History().Len(side)
	if total > 0 {
		img, err := a.Store().Image(side, index)
		if err != nil {
			return nil, err
		}
		ann, err := a.Store().Get(side, index)
		if err != nil {
			return nil, err
		}
		view.Image, view.Annotation = &img, ann
	}
	if kp, ok := a.Session.Selected(side); ok {
		view.Selected = &kp
	}
	return view, nil
}
