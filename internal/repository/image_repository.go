package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

// ImageRepository keeps the image listing of each side so statistics can be
// computed without the image folders
type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// SyncImages records images as the current listing of side. Images that
// disappeared keep their keypoints but lose their position, so a later load
// reports them as unmatched.
func (r *ImageRepository) SyncImages(ctx context.Context, side domain.Side, images []domain.ImageRef) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return domain.WrapIO("starting image sync transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `update images set position = -1 where side = ? and orphaned = 0`, string(side)); err != nil {
		return domain.WrapIO("resetting image positions", err)
	}
	for i, img := range images {
		if _, err := upsertImage(ctx, tx, side, img.Path, i, img.Width, img.Height, false); err != nil {
			return domain.WrapIO("syncing images", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapIO("committing image sync", err)
	}
	return nil
}

// CountImages returns how many images are in the current listing of side
func (r *ImageRepository) CountImages(ctx context.Context, side domain.Side) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
select count(*) from images where side = ? and orphaned = 0 and position >= 0
    `, string(side)).Scan(&count)
	if err != nil {
		return 0, domain.WrapIO(fmt.Sprintf("counting images of %s side", side), err)
	}
	return count, nil
}
