package annotation

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/format"
	"github.com/lewtec/rotulador-keypoints/internal/repository"
)

func writePNG(t *testing.T, filename string, w, h int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

// setupProject creates a dual-side project with three left frames and two
// right frames, the right ones sharing names with the last two left ones
func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"frame_0001.png", "frame_0002.png", "frame_0003.png"} {
		writePNG(t, filepath.Join(dir, "images", "left", "f1", name), 64, 48)
	}
	for _, name := range []string{"frame_0002.png", "frame_0003.png"} {
		writePNG(t, filepath.Join(dir, "images", "right", name), 32, 24)
	}
	if err := WriteSampleConfig(filepath.Join(dir, "config.yaml"), "", ""); err != nil {
		t.Fatal(err)
	}
	return dir
}

type testRepos struct {
	annotations *repository.AnnotationRepository
	images      *repository.ImageRepository
	settings    *repository.SettingsRepository
}

func newTestRepos(t *testing.T) testRepos {
	t.Helper()
	db := repository.SetupTestDB(t)
	t.Cleanup(func() { repository.CleanupTestDB(t, db) })
	return testRepos{
		annotations: repository.NewAnnotationRepository(db),
		images:      repository.NewImageRepository(db),
		settings:    repository.NewSettingsRepository(db),
	}
}

func openApp(t *testing.T, dir string, repos testRepos) *LabelerApp {
	t.Helper()
	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	app, err := NewLabelerApp(cfg, repos.annotations, repos.images, repos.settings)
	if err != nil {
		t.Fatalf("NewLabelerApp() error = %v", err)
	}
	if err := app.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return app
}

func TestLabelerApp_SaveAndReload(t *testing.T) {
	dir := setupProject(t)
	repos := newTestRepos(t)
	ctx := context.Background()
	app := openApp(t, dir, repos)

	state, err := app.State(domain.Left)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state.Total != 3 || state.Image.Path != "f1/frame_0001.png" || state.Image.Width != 64 {
		t.Fatalf("State() = %+v", state)
	}

	mustAdd(t, app.Session, domain.Left, domain.Point{X: 10, Y: 20})
	mustAdd(t, app.Session, domain.Left, domain.Point{X: 30, Y: 40})
	app.Session.SetVisibility(domain.Left, 1, domain.LabeledHidden)
	if !app.Dirty() {
		t.Fatal("app not dirty after edits")
	}

	if err := app.SaveDirty(ctx); err != nil {
		t.Fatalf("SaveDirty() error = %v", err)
	}
	if app.Dirty() {
		t.Error("app dirty after save")
	}
	data, err := os.ReadFile(filepath.Join(dir, "annotations", "left.json"))
	if err != nil {
		t.Fatalf("annotation file not written: %v", err)
	}
	if !strings.Contains(string(data), `"image": "f1/frame_0001.png"`) {
		t.Errorf("annotation file = %s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "annotations", "right.json")); !os.IsNotExist(err) {
		t.Error("clean right side was saved")
	}

	t.Run("reload from file", func(t *testing.T) {
		reloaded := openApp(t, dir, newTestRepos(t))
		ann, err := reloaded.Store().Get(domain.Left, 0)
		if err != nil {
			t.Fatal(err)
		}
		if ann.Keypoints[0].X != 10 || ann.Keypoints[1].Visibility != domain.LabeledHidden {
			t.Errorf("reloaded keypoints = %+v", ann.Keypoints[:2])
		}
		if reloaded.Dirty() {
			t.Error("freshly loaded app is dirty")
		}
	})

	t.Run("reload from database", func(t *testing.T) {
		if err := os.Remove(filepath.Join(dir, "annotations", "left.json")); err != nil {
			t.Fatal(err)
		}
		reloaded := openApp(t, dir, repos)
		ann, _ := reloaded.Store().Get(domain.Left, 0)
		if ann.LabeledCount() != 2 || ann.Keypoints[1].Y != 40 {
			t.Errorf("keypoints from database = %+v", ann.Keypoints[:2])
		}
		folder, ok, err := reloaded.LastFolder(ctx, domain.Left)
		if err != nil || !ok || !strings.HasSuffix(folder, filepath.Join("images", "left")) {
			t.Errorf("LastFolder() = %q, %v, %v", folder, ok, err)
		}
	})
}

func TestLabelerApp_COCOCompanion(t *testing.T) {
	dir := setupProject(t)
	app := openApp(t, dir, newTestRepos(t))

	if err := app.SetFormat("yaml"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("SetFormat(yaml) error = %v", err)
	}
	if err := app.SetFormat(format.KindCOCO); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, app.Session, domain.Left, domain.Point{X: 10, Y: 20})
	if err := app.Save(context.Background(), domain.Left); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	companion := CompanionPath(filepath.Join(dir, "annotations", "left.json"))
	if filepath.Base(companion) != "left_coco.json" {
		t.Errorf("CompanionPath() = %q", companion)
	}
	data, err := os.ReadFile(companion)
	if err != nil {
		t.Fatalf("COCO companion not written: %v", err)
	}
	if !strings.Contains(string(data), `"categories"`) {
		t.Errorf("companion = %s", data)
	}

	t.Run("coco file loads back", func(t *testing.T) {
		result, err := app.LoadAnnotations(context.Background(), domain.Left, companion)
		if err != nil {
			t.Fatalf("LoadAnnotations() error = %v", err)
		}
		if result.Matched != 1 || result.Orphaned != 0 {
			t.Errorf("LoadAnnotations() = %+v", result)
		}
	})
}

func TestLabelerApp_OrphansSurviveSave(t *testing.T) {
	dir := setupProject(t)
	annotations := `{"annotations": [
		{"image": "f1/frame_0002.png", "width": 64, "height": 48, "keypoints": [[1, 2], null, [5, 6, 1]]},
		{"image": "removed/frame_0042.png", "keypoints": [[7, 8]]}
	]}`
	if err := os.MkdirAll(filepath.Join(dir, "annotations"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "annotations", "left.json"), []byte(annotations), 0644); err != nil {
		t.Fatal(err)
	}

	app := openApp(t, dir, newTestRepos(t))
	orphans, _ := app.Store().Orphans(domain.Left)
	if len(orphans) != 1 {
		t.Fatalf("orphans = %d, want 1", len(orphans))
	}
	ann, _ := app.Store().Get(domain.Left, 1)
	if ann.Keypoints[2].Visibility != domain.LabeledHidden {
		t.Errorf("bound annotation = %+v", ann.Keypoints[:3])
	}

	if err := app.Save(context.Background(), domain.Left); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "annotations", "left.json"))
	if !strings.Contains(string(data), "removed/frame_0042.png") {
		t.Errorf("orphan dropped on save: %s", data)
	}
}

func TestLabelerApp_Navigate(t *testing.T) {
	dir := setupProject(t)
	app := openApp(t, dir, newTestRepos(t))

	if err := app.Navigate(domain.Left, 1, true); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if err := app.Navigate(domain.Left, 1, true); err != nil {
		t.Fatalf("Navigate() with right at its end error = %v", err)
	}
	left, _ := app.Session.Current(domain.Left)
	right, _ := app.Session.Current(domain.Right)
	if left != 2 || right != 1 {
		t.Errorf("current = %d, %d, want 2, 1", left, right)
	}
	if err := app.Navigate(domain.Left, 1, true); !errors.Is(err, domain.ErrIndex) {
		t.Errorf("Navigate() past every end error = %v", err)
	}

	t.Run("match frames by filename", func(t *testing.T) {
		name, err := app.MatchFramesByFilename()
		if err != nil || name != "frame_0002.png" {
			t.Fatalf("MatchFramesByFilename() = %q, %v", name, err)
		}
		left, _ := app.Session.Current(domain.Left)
		right, _ := app.Session.Current(domain.Right)
		if left != 1 || right != 0 {
			t.Errorf("current = %d, %d, want 1, 0", left, right)
		}
	})
}

func TestLabelerApp_Exports(t *testing.T) {
	dir := setupProject(t)
	app := openApp(t, dir, newTestRepos(t))
	mustAdd(t, app.Session, domain.Left, domain.Point{X: 16, Y: 12})
	mustAdd(t, app.Session, domain.Left, domain.Point{X: 48, Y: 36})

	out := filepath.Join(dir, "out")
	n, err := app.ExportYOLO(domain.Left, out)
	if err != nil || n != 1 {
		t.Fatalf("ExportYOLO() = %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(out, "labels", "f1", "frame_0001.txt")); err != nil {
		t.Errorf("YOLO label missing: %v", err)
	}
	if n, err := app.ExportVOC(domain.Left, out); err != nil || n != 1 {
		t.Errorf("ExportVOC() = %d, %v", n, err)
	}
	if n, err := app.ExportCOCO(domain.Left, filepath.Join(out, "coco.json")); err != nil || n != 1 {
		t.Errorf("ExportCOCO() = %d, %v", n, err)
	}

	report, err := app.Report()
	if err != nil {
		t.Fatal(err)
	}
	stats := report.Statistics()
	if stats[domain.Left].AnnotatedImages != 1 || stats[domain.Right].AnnotatedImages != 0 {
		t.Errorf("statistics = %+v", stats)
	}
	if err := app.ExportStatistics(filepath.Join(out, "stats.md")); err != nil {
		t.Errorf("ExportStatistics() error = %v", err)
	}
}

func TestLabelerApp_ApplyConfig(t *testing.T) {
	dir := setupProject(t)
	app := openApp(t, dir, newTestRepos(t))

	cfg, _ := LoadConfig(filepath.Join(dir, "config.yaml"))
	cfg.Keypoints.Names = append([]string(nil), cfg.Keypoints.Names...)
	cfg.Keypoints.Names[0] = "nose"
	cfg.Edit.SelectRadius = 5
	if err := app.ApplyConfig(cfg); err != nil {
		t.Fatalf("ApplyConfig() error = %v", err)
	}
	state, _ := app.State(domain.Left)
	if state.Names[0] != "nose" {
		t.Errorf("names = %v", state.Names[:2])
	}

	mustAdd(t, app.Session, domain.Left, domain.Point{X: 10, Y: 10})
	if _, ok, _ := app.Session.SelectNear(domain.Left, domain.Point{X: 16, Y: 10}); ok {
		t.Error("select radius not reloaded")
	}

	cfg.Keypoints.Names = cfg.Keypoints.Names[:4]
	if err := app.ApplyConfig(cfg); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ApplyConfig() with fewer names error = %v", err)
	}
}
