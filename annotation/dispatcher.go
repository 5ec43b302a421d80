package annotation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher runs every command against the app on a single goroutine, so
// the store needs no locking. HTTP handlers, the autosave timer and config
// reloads all go through Do.
type Dispatcher struct {
	app  *LabelerApp
	cmds chan func(*LabelerApp)
	done chan struct{}
}

func NewDispatcher(app *LabelerApp) *Dispatcher {
	return &Dispatcher{
		app:  app,
		cmds: make(chan func(*LabelerApp)),
		done: make(chan struct{}),
	}
}

// Run executes commands until ctx ends
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.cmds:
			cmd(d.app)
		}
	}
}

// Do submits fn and waits for its result. ctx only bounds the wait for the
// dispatcher to accept fn: once accepted, fn runs to completion and Do
// returns its error.
func (d *Dispatcher) Do(ctx context.Context, fn func(*LabelerApp) error) error {
	result := make(chan error, 1)
	cmd := func(a *LabelerApp) {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("command panicked: %v", r)
			}
		}()
		result <- fn(a)
	}
	select {
	case d.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrDispatcherStopped
	}
	return <-result
}

// RunAutosave saves dirty sides every interval until ctx ends
func (d *Dispatcher) RunAutosave(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.Do(ctx, func(a *LabelerApp) error {
				if !a.Dirty() {
					return nil
				}
				log.Printf("autosave: saving")
				return a.SaveDirty(ctx)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("autosave: %s", err)
			}
		}
	}
}
