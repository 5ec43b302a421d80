package main

import (
	"fmt"

	"github.com/lewtec/rotulador-keypoints/internal/repository"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate [database]",
	Short: "Bring the project database schema up to date",
	Long: `Apply pending schema migrations. Without an argument the database of the
project config is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var databaseFile string
		if len(args) == 1 {
			databaseFile = args[0]
		} else {
			configFile, _ := cmd.Flags().GetString("config")
			p, err := openProject(configFile)
			if err != nil {
				return err
			}
			databaseFile = p.Config.ResolvePath(p.Config.Database.Path)
			p.Close()
		}

		db, err := repository.Open(databaseFile)
		if err != nil {
			return err
		}
		defer db.Close()
		version, err := repository.Migrate(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", databaseFile, version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
