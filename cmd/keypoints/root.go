package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/lewtec/rotulador-keypoints/annotation"
	"github.com/lewtec/rotulador-keypoints/internal/domain"
	"github.com/lewtec/rotulador-keypoints/internal/repository"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keypoints [folder|config.yaml]",
	Short: "Annotate keypoints on paired image sequences",
	Long: strings.TrimSpace(`
Place, move and review a fixed set of named keypoints on the frames of one or
two camera angles, then export them as COCO, YOLO or Pascal-VOC datasets.
    `),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		if len(args) == 1 {
			arg := args[0]
			if stat, err := os.Stat(arg); err == nil && stat.IsDir() {
				log.Printf("Detected folder argument: %s", arg)
				if err := initProject(arg, "", ""); err != nil {
					return err
				}
				configFile = filepath.Join(arg, "config.yaml")
			} else {
				configFile = arg
			}
		}
		return serve(cmd, configFile)
	},
}

// project is a loaded config plus its open database
type project struct {
	Config *annotation.Config
	DB     *sql.DB
}

func (p *project) Close() {
	if err := p.DB.Close(); err != nil {
		log.Printf("error: while closing database: %s", err)
	}
}

// openProject loads configFile and opens and migrates its database
func openProject(configFile string) (*project, error) {
	config, err := annotation.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	databaseFile := config.ResolvePath(config.Database.Path)
	db, err := repository.Open(databaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := repository.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare database: %w", err)
	}
	return &project{Config: config, DB: db}, nil
}

// newApp opens the images and annotations of every side of p
func (p *project) newApp(cmd *cobra.Command) (*annotation.LabelerApp, error) {
	app, err := annotation.NewLabelerApp(p.Config,
		repository.NewAnnotationRepository(p.DB),
		repository.NewImageRepository(p.DB),
		repository.NewSettingsRepository(p.DB),
	)
	if err != nil {
		return nil, err
	}
	if err := app.Open(cmd.Context()); err != nil {
		return nil, err
	}
	return app, nil
}

func sideFlag(cmd *cobra.Command) (domain.Side, error) {
	side, err := cmd.Flags().GetString("side")
	if err != nil {
		return "", err
	}
	return domain.ParseSide(side)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Config file of the project")
	rootCmd.Flags().StringP("addr", "a", ":8080", "Address to bind the webserver")
	rootCmd.Flags().Bool("debug", false, "Dump the loaded project state")
}
