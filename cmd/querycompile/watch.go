package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"

	"querycanvas/internal/querygraph"
)

const watchDebounce = 100 * time.Millisecond

// watchGraph compiles path once and again after every change until ctx is
// done. The parent directory is watched because editors often save by
// renaming a temporary file over the original.
func watchGraph(ctx context.Context, out, errOut io.Writer, path string, opts compileOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	stamp := color.New(color.Faint)
	compileOnce := func() {
		_, _ = stamp.Fprintf(out, "-- %s %s\n", time.Now().Format(time.TimeOnly), path)
		graph, err := querygraph.LoadFile(abs)
		if err == nil {
			err = render(out, graph, opts)
		}
		if err != nil {
			_, _ = color.New(color.FgRed).Fprintln(errOut, "error:", err)
		}
	}
	compileOnce()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_, _ = color.New(color.FgYellow).Fprintln(errOut, "watch:", err)
		case <-debounce.C:
			compileOnce()
		}
	}
}
