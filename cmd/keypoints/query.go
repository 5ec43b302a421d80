package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/repository"
	"github.com/spf13/cobra"
)

func PrintQuery(ctx context.Context, w io.Writer, db *sql.Tx, query string, args ...interface{}) error {
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	result, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return err
	}
	defer result.Close()
	columns, err := result.Columns()
	if err != nil {
		return err
	}
	if len(columns) > 1 {
		fmt.Fprintln(w, strings.Join(columns, "\t"))
	}
	pointers := make([]interface{}, len(columns))
	container := make([]sql.NullString, len(columns))
	for i := 0; i < len(columns); i++ {
		pointers[i] = &container[i]
	}
	values := make([]string, len(columns))
	for result.Next() {
		if err := result.Scan(pointers...); err != nil {
			return err
		}
		for i, v := range container {
			values[i] = v.String
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	return result.Err()
}

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query database [side] [image]",
	Short: "Queries the project database",
	Long: `Print what the project database holds.

  keypoints query annotations.db                     labeled images per side
  keypoints query annotations.db left                images of a side and their keypoint count
  keypoints query annotations.db left f1/0001.jpg    keypoints of one image`,
	Args: cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := repository.Open(args[0])
		if err != nil {
			return err
		}
		defer db.Close()

		tx, err := db.BeginTx(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		out := cmd.OutOrStdout()
		if len(args) < 2 {
			return PrintQuery(cmd.Context(), out, tx, `
select i.side, count(distinct i.id) as images, count(k.idx) as keypoints
from images i join keypoints k on k.image_id = i.id
group by i.side order by i.side`)
		}
		side, err := domain.ParseSide(args[1])
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return PrintQuery(cmd.Context(), out, tx, `
select i.path, i.position, count(k.idx) as keypoints
from images i left join keypoints k on k.image_id = i.id
where i.side = ?
group by i.id order by i.position < 0, i.position, i.path`, string(side))
		}
		return PrintQuery(cmd.Context(), out, tx, `
select k.idx, k.x, k.y, k.visibility
from images i join keypoints k on k.image_id = i.id
where i.side = ? and i.path = ?
order by k.idx`, string(side), args[2])
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
