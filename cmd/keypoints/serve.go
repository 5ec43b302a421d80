package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lewtec/rotulador-keypoints/annotation"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the annotation web server",
	Long: `Start the annotation web server.

Every side configured in the project is opened: its images are listed and its
annotation file is loaded, falling back to the project database when the file
does not exist yet. Changes are saved on the autosave interval, on request and
when the server stops. Edits to the config file are picked up while running.

Examples:
  keypoints serve -c config.yaml
  keypoints serve -c config.yaml -a 127.0.0.1:9000 --debug
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		return serve(cmd, configFile)
	},
}

func serve(cmd *cobra.Command, configFile string) error {
	p, err := openProject(configFile)
	if err != nil {
		return err
	}
	defer p.Close()

	app, err := p.newApp(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		spew.Fdump(cmd.ErrOrStderr(), p.Config)
		for _, side := range app.Store().Sides() {
			state, err := app.State(side)
			if err != nil {
				return err
			}
			spew.Fdump(cmd.ErrOrStderr(), state)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := annotation.NewDispatcher(app)
	dispatcherDone := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(dispatcherDone)
	}()

	if p.Config.AutosaveEnabled() {
		log.Printf("Autosave every %s", p.Config.AutosaveInterval())
		go d.RunAutosave(ctx, p.Config.AutosaveInterval())
	}
	go func() {
		err := annotation.WatchConfig(ctx, configFile, func(cfg *annotation.Config) {
			err := d.Do(ctx, func(a *annotation.LabelerApp) error {
				return a.ApplyConfig(cfg)
			})
			if err != nil {
				log.Printf("error: while applying reloaded config: %s", err)
			}
		})
		if err != nil {
			log.Printf("error: config reload disabled: %s", err)
		}
	}()

	log.Printf("Configuration: %s", configFile)
	log.Printf("Database: %s", p.Config.ResolvePath(p.Config.Database.Path))
	for _, side := range app.Store().Sides() {
		total, _ := app.Store().Len(side)
		log.Printf("  - %s: %d images", side, total)
	}
	log.Printf("Keypoints configured: %d", app.Store().Definition().Len())
	log.Printf("Starting server on: %s", addr)

	server := &http.Server{Addr: addr, Handler: annotation.NewHTTPHandler(d)}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("error: while stopping server: %s", err)
		}
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	stop()
	<-dispatcherDone
	if err := app.SaveDirty(context.Background()); err != nil {
		return errors.Join(runErr, fmt.Errorf("while saving on exit: %w", err))
	}
	return runErr
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to bind the webserver")
	serveCmd.Flags().Bool("debug", false, "Dump the loaded project state")
}
