package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AnnotationRepository implements domain.AnnotationRepository on SQLite.
// Only labeled keypoints are stored.
type AnnotationRepository struct {
	db *sql.DB
}

func NewAnnotationRepository(db *sql.DB) *AnnotationRepository {
	return &AnnotationRepository{db: db}
}

func upsertImage(ctx context.Context, q querier, side domain.Side, path string, position, width, height int, orphaned bool) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
insert into images (side, path, position, width, height, orphaned) values (?, ?, ?, ?, ?, ?)
on conflict(side, path, orphaned) do update set
    position = excluded.position,
    width = case when excluded.width > 0 then excluded.width else images.width end,
    height = case when excluded.height > 0 then excluded.height else images.height end,
    updated_at = current_timestamp
returning id
    `, string(side), path, position, width, height, orphaned).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("while storing image '%s': %w", path, err)
	}
	return id, nil
}

func deleteKeypoints(ctx context.Context, q querier, side domain.Side) error {
	_, err := q.ExecContext(ctx, `
delete from keypoints where image_id in (select id from images where side = ?)
    `, string(side))
	return err
}

// SaveSide replaces the stored keypoints of side in one transaction.
// Orphaned records from earlier saves that are not in records are dropped.
func (r *AnnotationRepository) SaveSide(ctx context.Context, side domain.Side, records []domain.SideRecord) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return domain.WrapIO("starting save transaction", err)
	}
	defer tx.Rollback()

	if err := deleteKeypoints(ctx, tx, side); err != nil {
		return domain.WrapIO("clearing keypoints", err)
	}
	if _, err := tx.ExecContext(ctx, `delete from images where side = ? and orphaned = 1`, string(side)); err != nil {
		return domain.WrapIO("clearing orphaned records", err)
	}
	for _, rec := range records {
		ann := rec.Annotation
		if ann == nil || ann.LabeledCount() == 0 {
			continue
		}
		orphaned := ann.Orphaned || rec.Position < 0
		position := rec.Position
		if orphaned {
			position = -1
		}
		id, err := upsertImage(ctx, tx, side, ann.ImagePath, position, ann.Width, ann.Height, orphaned)
		if err != nil {
			return domain.WrapIO("saving annotations", err)
		}
		for _, kp := range ann.Keypoints {
			if !kp.Labeled() {
				continue
			}
			_, err := tx.ExecContext(ctx, `
insert or replace into keypoints (image_id, idx, x, y, visibility) values (?, ?, ?, ?, ?)
            `, id, kp.Index, kp.X, kp.Y, int(kp.Visibility))
			if err != nil {
				return domain.WrapIO(fmt.Sprintf("saving keypoint %d of '%s'", kp.Index, ann.ImagePath), err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapIO("committing annotations", err)
	}
	return nil
}

// LoadSide returns the records of side that have keypoints, by position with
// orphans last. Keypoint slots run up to the highest stored index.
func (r *AnnotationRepository) LoadSide(ctx context.Context, side domain.Side) ([]domain.SideRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
select i.id, i.position, i.path, i.width, i.height, i.orphaned, k.idx, k.x, k.y, k.visibility
from images i join keypoints k on k.image_id = i.id
where i.side = ?
order by i.position < 0, i.position, i.id, k.idx
    `, string(side))
	if err != nil {
		return nil, domain.WrapIO("loading annotations", err)
	}
	defer rows.Close()

	var ret []domain.SideRecord
	lastID := int64(-1)
	for rows.Next() {
		var (
			id                      int64
			position, width, height int
			path                    string
			orphaned                bool
			kp                      domain.Keypoint
			visibility              int
		)
		if err := rows.Scan(&id, &position, &path, &width, &height, &orphaned, &kp.Index, &kp.X, &kp.Y, &visibility); err != nil {
			return nil, domain.WrapIO("reading annotations", err)
		}
		kp.Visibility = domain.Visibility(visibility)
		if id != lastID {
			lastID = id
			ret = append(ret, domain.SideRecord{
				Position: position,
				Annotation: &domain.ImageAnnotation{
					ImagePath: path,
					Width:     width,
					Height:    height,
					Orphaned:  orphaned || position < 0,
				},
			})
		}
		ann := ret[len(ret)-1].Annotation
		ann.Resize(kp.Index + 1)
		ann.Keypoints[kp.Index] = kp
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapIO("reading annotations", err)
	}
	return ret, nil
}

func (r *AnnotationRepository) CountAnnotated(ctx context.Context, side domain.Side) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
select count(distinct i.id) from images i join keypoints k on k.image_id = i.id
where i.side = ? and i.orphaned = 0 and i.position >= 0
    `, string(side)).Scan(&count)
	if err != nil {
		return 0, domain.WrapIO("counting annotated images", err)
	}
	return count, nil
}
