package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchDirectory starts workflows from YAML definition files dropped
// into dir. Files already present are picked up once at startup; after
// that, creation and write events trigger a load. Blocks until the
// context is cancelled.
func (o *Orchestrator) WatchDirectory(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Editors emit several events per save; load each file once.
	seen := make(map[string]struct{})
	load := func(path string) {
		if _, done := seen[path]; done {
			return
		}
		if o.intake(path) {
			seen[path] = struct{}{}
		}
	}

	existing, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err == nil {
		for _, path := range existing {
			load(path)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isDefinitionFile(ev.Name) {
				continue
			}
			load(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("workflow watcher error", zap.Error(err))
		}
	}
}

func isDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// intake loads, creates, and starts one workflow definition file. A bad
// file is logged and skipped; the watcher keeps running. Returns true
// once the workflow is running.
func (o *Orchestrator) intake(path string) bool {
	def, err := LoadDefinition(path)
	if err != nil {
		o.logger.Warn("skipping workflow definition",
			zap.String("path", path), zap.Error(err))
		return false
	}
	id, err := o.CreateWorkflow(def)
	if err != nil {
		o.logger.Warn("rejecting workflow definition",
			zap.String("path", path), zap.Error(err))
		return false
	}
	if err := o.StartWorkflow(id); err != nil {
		o.logger.Warn("could not start workflow",
			zap.String("workflow_id", id), zap.Error(err))
		return false
	}
	o.logger.Info("workflow started from file",
		zap.String("path", path), zap.String("workflow_id", id))
	return true
}
