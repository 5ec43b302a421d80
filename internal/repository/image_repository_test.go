package repository

import (
	"context"
	"testing"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

func TestImageRepository_SyncImages(t *testing.T) {
	imgRepo, annRepo, ctx := setupTestRepositories(t)

	images := []domain.ImageRef{
		{Path: "frame_0001.jpg", Width: 640, Height: 480},
		{Path: "frame_0002.jpg", Width: 640, Height: 480},
		{Path: "frame_0003.jpg", Width: 640, Height: 480},
	}
	if err := imgRepo.SyncImages(ctx, domain.Left, images); err != nil {
		t.Fatalf("SyncImages() error = %v", err)
	}

	t.Run("counts the listing of one side", func(t *testing.T) {
		if count, err := imgRepo.CountImages(ctx, domain.Left); err != nil || count != 3 {
			t.Fatalf("CountImages(left) = %d, %v, want 3", count, err)
		}
		if count, _ := imgRepo.CountImages(ctx, domain.Right); count != 0 {
			t.Errorf("CountImages(right) = %d, want 0", count)
		}
		if err := imgRepo.SyncImages(ctx, domain.Left, images); err != nil {
			t.Fatalf("second SyncImages() error = %v", err)
		}
		if count, _ := imgRepo.CountImages(ctx, domain.Left); count != 3 {
			t.Errorf("resync duplicated images: CountImages() = %d", count)
		}
	})

	t.Run("removed images lose their position but keep keypoints", func(t *testing.T) {
		ann := testAnnotation("frame_0003.jpg", 2, domain.Keypoint{Index: 0, X: 1, Y: 2, Visibility: domain.LabeledVisible})
		if err := annRepo.SaveSide(ctx, domain.Left, []domain.SideRecord{{Position: 2, Annotation: ann}}); err != nil {
			t.Fatalf("SaveSide() error = %v", err)
		}
		if err := imgRepo.SyncImages(ctx, domain.Left, images[:2]); err != nil {
			t.Fatalf("SyncImages() error = %v", err)
		}
		count, err := imgRepo.CountImages(ctx, domain.Left)
		if err != nil {
			t.Fatalf("CountImages() error = %v", err)
		}
		if count != 2 {
			t.Errorf("CountImages() = %d, want 2", count)
		}
		loaded, err := annRepo.LoadSide(ctx, domain.Left)
		if err != nil {
			t.Fatalf("LoadSide() error = %v", err)
		}
		if len(loaded) != 1 || !loaded[0].Annotation.Orphaned {
			t.Errorf("expected the record of the removed image to come back orphaned, got %+v", loaded)
		}
	})
}

func TestSettingsRepository(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	if _, ok, err := repo.GetSetting(ctx, "last_folder.left"); err != nil || ok {
		t.Fatalf("GetSetting() = ok %v, err %v; want unset", ok, err)
	}
	for _, value := range []string{"/data/left", "/data/left2"} {
		if err := repo.SetSetting(ctx, "last_folder.left", value); err != nil {
			t.Fatalf("SetSetting() error = %v", err)
		}
		got, ok, err := repo.GetSetting(ctx, "last_folder.left")
		if err != nil || !ok || got != value {
			t.Errorf("GetSetting() = %q, %v, %v; want %q", got, ok, err, value)
		}
	}
}
