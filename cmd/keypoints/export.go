package main

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/lewtec/rotulador-keypoints/annotation"
	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/export"
	"github.com/lewtec/rotulador-keypoints/internal/format"
	"github.com/lewtec/rotulador-keypoints/internal/repository"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the annotations of a side as a training dataset",
}

// exportRunner builds the RunE of an export subcommand
func exportRunner(run func(app *annotation.LabelerApp, side domain.Side, target string) (int, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		side, err := sideFlag(cmd)
		if err != nil {
			return err
		}
		p, err := openProject(configFile)
		if err != nil {
			return err
		}
		defer p.Close()
		app, err := p.newApp(cmd)
		if err != nil {
			return err
		}
		n, err := run(app, side, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d images exported to %s\n", n, args[0])
		return nil
	}
}

var exportCOCOCmd = &cobra.Command{
	Use:   "coco <file.json>",
	Short: "Write a COCO keypoint dataset",
	Args:  cobra.ExactArgs(1),
	RunE: exportRunner(func(app *annotation.LabelerApp, side domain.Side, target string) (int, error) {
		return app.ExportCOCO(side, target)
	}),
}

var exportYOLOCmd = &cobra.Command{
	Use:   "yolo <dir>",
	Short: "Write one YOLO label file per annotated image under dir/labels",
	Args:  cobra.ExactArgs(1),
	RunE: exportRunner(func(app *annotation.LabelerApp, side domain.Side, target string) (int, error) {
		return app.ExportYOLO(side, target)
	}),
}

var exportVOCCmd = &cobra.Command{
	Use:   "voc <dir>",
	Short: "Write one Pascal-VOC document per annotated image under dir/annotations",
	Args:  cobra.ExactArgs(1),
	RunE: exportRunner(func(app *annotation.LabelerApp, side domain.Side, target string) (int, error) {
		return app.ExportVOC(side, target)
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats <file.{json,txt,csv,html,md}>",
	Short: "Write annotation statistics of every side",
	Long: `Write annotation statistics of every side. The report format follows the
extension of the output file.

With --from-db the statistics are computed from the project database alone,
without reading the images or annotation files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		fromDB, _ := cmd.Flags().GetBool("from-db")
		p, err := openProject(configFile)
		if err != nil {
			return err
		}
		defer p.Close()

		if !fromDB {
			app, err := p.newApp(cmd)
			if err != nil {
				return err
			}
			if err := app.ExportStatistics(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "statistics written to %s\n", args[0])
			return nil
		}

		def, err := p.Config.Definition()
		if err != nil {
			return err
		}
		images := repository.NewImageRepository(p.DB)
		annotations := repository.NewAnnotationRepository(p.DB)
		report := &format.Report{GeneratedAt: time.Now(), Definition: def}
		for _, side := range p.Config.SideList() {
			total, err := images.CountImages(cmd.Context(), side)
			if err != nil {
				return err
			}
			annotated, err := annotations.CountAnnotated(cmd.Context(), side)
			if err != nil {
				return err
			}
			records, err := annotations.LoadSide(cmd.Context(), side)
			if err != nil {
				return err
			}
			var anns []*domain.ImageAnnotation
			for _, rec := range records {
				if rec.Position < 0 {
					continue
				}
				anns = append(anns, rec.Annotation)
			}
			log.Printf("stats: %s: %d images, %d annotated in database", side, total, annotated)
			report.Sides = append(report.Sides, format.BuildSideReport(side, int(total), anns))
		}
		dir, name := filepath.Split(args[0])
		if dir == "" {
			dir = "."
		}
		if err := export.New(osfs.New(dir), def).Statistics(name, report); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "statistics written to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
	exportCmd.AddCommand(exportCOCOCmd, exportYOLOCmd, exportVOCCmd)

	exportCmd.PersistentFlags().StringP("side", "s", string(domain.Left), "Side to export: left or right")
	statsCmd.Flags().Bool("from-db", false, "Compute from the project database only")
}
