package dialog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ScriptLoader loads script overrides from a YAML file of key: template
// pairs and optionally hot-reloads them into a Script.
type ScriptLoader struct {
	path   string
	script *Script
}

// NewScriptLoader creates a loader that feeds script.
func NewScriptLoader(path string, script *Script) *ScriptLoader {
	return &ScriptLoader{path: path, script: script}
}

// Load reads the file and installs its overrides.
func (l *ScriptLoader) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read script %q: %w", l.path, err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	if err := l.script.Replace(overrides); err != nil {
		return fmt.Errorf("load %q: %w", l.path, err)
	}
	return nil
}

// WatchAndReload watches the script file's directory and reloads on change.
// A file that fails to load leaves the previous script in place.
// This blocks until the done channel is closed.
func (l *ScriptLoader) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := l.Load(); err != nil {
					slog.Warn("script reload failed", slog.String("path", l.path), slog.Any("error", err))
				} else {
					slog.Info("script reloaded", slog.String("path", l.path))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
