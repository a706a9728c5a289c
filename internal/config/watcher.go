package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hostagent/internal/logger"
)

// DefaultDebounce is how long a watcher waits for a burst of file events to
// settle before reloading. Editors often write a file in several steps.
const DefaultDebounce = 250 * time.Millisecond

// watchTarget selects the events of one directory that trigger a reload.
type watchTarget struct {
	dir   string
	match func(name string) bool
}

// FileWatcher reloads configuration when any of its targets change.
type FileWatcher struct {
	targets  []watchTarget
	onChange func()
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	done    chan struct{}
	exited  chan struct{}
}

func newFileWatcher(onChange func(), targets ...watchTarget) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		targets:  targets,
		onChange: onChange,
		debounce: DefaultDebounce,
		watcher:  w,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}, nil
}

// fileTarget matches a single file. Its directory is watched so that
// replace-by-rename saves are seen.
func fileTarget(path string) watchTarget {
	base := filepath.Base(path)
	return watchTarget{
		dir:   filepath.Dir(path),
		match: func(name string) bool { return filepath.Base(name) == base },
	}
}

// overlayTarget matches every *.json file of dir.
func overlayTarget(dir string) watchTarget {
	return watchTarget{
		dir:   dir,
		match: func(name string) bool { return filepath.Ext(name) == ".json" },
	}
}

// Start begins watching. Only a missing directory of the main file is an
// error; other targets are skipped with a warning.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return nil
	}

	log := logger.WithComponent("config-watcher")
	for i, t := range fw.targets {
		if err := fw.watcher.Add(t.dir); err != nil {
			// the first target is the file being reloaded
			if i == 0 {
				return err
			}
			log.Warn().Err(err).Str("dir", t.dir).Msg("Not watching directory")
			continue
		}
		log.Debug().Str("dir", t.dir).Msg("Watching directory")
	}

	fw.running = true
	go fw.loop()
	return nil
}

// Stop stops watching and waits for a pending reload to finish.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	err := fw.watcher.Close()
	<-fw.exited
	return err
}

func (fw *FileWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	dir := filepath.Dir(ev.Name)
	for _, t := range fw.targets {
		if filepath.Clean(t.dir) == dir && t.match(ev.Name) {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) loop() {
	defer close(fw.exited)
	log := logger.WithComponent("config-watcher")

	// nil until an event arms it
	var settle <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-fw.done:
			return

		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(ev) {
				continue
			}
			log.Debug().Str("file", ev.Name).Str("event", ev.Op.String()).Msg("Configuration file changed")
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			settle = timer.C

		case <-settle:
			settle = nil
			if fw.onChange != nil {
				fw.onChange()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// NewConfigWatcher reloads the main configuration file together with its
// overlay directory whenever either changes, and passes the result to
// callback. A configuration that fails to load is logged and dropped.
func NewConfigWatcher(path, overlayDir string, callback func(*Config)) (*FileWatcher, error) {
	targets := []watchTarget{fileTarget(path)}
	if overlayDir != "" {
		targets = append(targets, overlayTarget(overlayDir))
	}
	return newFileWatcher(func() {
		log := logger.WithComponent("config-watcher")
		cfg, err := Load(path, overlayDir)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration, keeping the previous one")
			return
		}
		log.Info().Str("path", path).Msg("Configuration reloaded")
		if callback != nil {
			callback(cfg)
		}
	}, targets...)
}

// NewLoggingWatcher reloads the logging configuration file on change.
func NewLoggingWatcher(path string, callback func(*logger.Config)) (*FileWatcher, error) {
	return newFileWatcher(func() {
		lc, err := LoadLogging(path)
		if err != nil {
			l := logger.WithComponent("config-watcher")
			l.Error().Err(err).Str("path", path).Msg("Failed to reload logging configuration")
			return
		}
		if callback != nil {
			callback(lc)
		}
	}, fileTarget(path))
}
