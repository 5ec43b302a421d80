package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/lewtec/rotulador-keypoints/annotation"
	"github.com/lewtec/rotulador-keypoints/internal/repository"
	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [folder]",
	Short: "Initialize a new keypoint project",
	Long: `Initialize a new keypoint project by creating:
- A sample configuration file (config.yaml)
- The SQLite project database (annotations.db)
- The images folders of both sides, when missing

Example:
  keypoints init ./swing
  keypoints init ./swing --left ./cam1 --right ./cam2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		left, _ := cmd.Flags().GetString("left")
		right, _ := cmd.Flags().GetString("right")
		if err := initProject(dir, left, right); err != nil {
			return err
		}

		configFile := filepath.Join(dir, "config.yaml")
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Initialization complete!")
		fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
		fmt.Fprintln(cmd.OutOrStdout(), "  1. Put the frames of each camera angle in the images folders")
		fmt.Fprintln(cmd.OutOrStdout(), "  2. Review the keypoint names in", configFile)
		fmt.Fprintf(cmd.OutOrStdout(), "  3. Start the server: keypoints serve -c %s\n", configFile)
		return nil
	},
}

// initProject creates the config, database and images folders of a project
// in dir. Existing files are kept.
func initProject(dir, leftImages, rightImages string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create project folder: %w", err)
	}
	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Printf("Creating default config: %s", configFile)
		if err := annotation.WriteSampleConfig(configFile, leftImages, rightImages); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}
	} else {
		log.Printf("Using existing config: %s", configFile)
	}

	config, err := annotation.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	databaseFile := config.ResolvePath(config.Database.Path)
	if _, err := os.Stat(databaseFile); os.IsNotExist(err) {
		log.Printf("Creating empty database: %s", databaseFile)
	}
	db, err := repository.Open(databaseFile)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()
	if _, err := repository.Migrate(db); err != nil {
		return fmt.Errorf("failed to prepare database: %w", err)
	}

	for _, side := range config.SideList() {
		imagesDir := config.ResolvePath(config.Side(side).Images)
		if _, err := os.Stat(imagesDir); os.IsNotExist(err) {
			log.Printf("Creating images directory: %s", imagesDir)
			if err := os.MkdirAll(imagesDir, 0755); err != nil {
				return fmt.Errorf("failed to create images directory: %w", err)
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("left", "", "Images folder of the left side, relative to the project")
	initCmd.Flags().String("right", "", "Images folder of the right side, relative to the project")
}
