package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <annotations.json>",
	Short: "Bind a Standard or COCO annotation file to the images of a side",
	Long: `Read a Standard or COCO annotation file, bind its records to the images of
a side and save the result to the side's annotation file and the project
database. Records whose image cannot be found are kept as unmatched.

Example:
  keypoints import -s right exported_from_elsewhere.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		result, err := app.LoadAnnotations(cmd.Context(), side, args[0])
		if err != nil {
			return err
		}
		// saves go to the configured file, never to the imported one.
		// Without a configured file they only reach the database.
		target := p.Config.ResolvePath(p.Config.Side(side).Annotations)
		if err := app.SetAnnotationFile(side, target); err != nil {
			return err
		}
		if err := app.Save(cmd.Context(), side); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d records matched, %d unmatched\n", result.Matched, result.Orphaned)
		for strategy, n := range result.Strategies {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", strategy, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringP("side", "s", "left", "Side the annotations belong to: left or right")
}
