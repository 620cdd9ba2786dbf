// Package watcher guards the episode database file against out-of-band
// deletion. When the file (or the whole data directory) disappears, the
// reopen callback is invoked so the store can bootstrap a fresh database
// instead of erroring on every subsequent write.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Guard watches the database file's parent directory; fsnotify cannot watch
// a path that no longer exists, so the parent is the stable anchor.
type Guard struct {
	dbPath   string
	dir      string
	reopen   func() error
	fsw      *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	debounce time.Duration
}

// New creates a Guard for the database at dbPath. reopen is called after the
// file is deleted and the deletion has settled.
func New(dbPath string, reopen func() error) (*Guard, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Guard{
		dbPath:   dbPath,
		dir:      filepath.Dir(dbPath),
		reopen:   reopen,
		fsw:      fsw,
		ctx:      ctx,
		cancel:   cancel,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Start begins watching. Safe to call more than once.
func (g *Guard) Start() error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.mu.Unlock()

	if err := g.watchDir(); err != nil {
		log.Warn().Err(err).Str("dir", g.dir).Msg("Failed to add initial watch")
	}

	go g.loop()
	return nil
}

// Stop stops the watcher.
func (g *Guard) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}
	g.running = false
	g.cancel()
	return g.fsw.Close()
}

func (g *Guard) watchDir() error {
	if _, err := os.Stat(g.dir); err != nil {
		return err
	}
	return g.fsw.Add(g.dir)
}

func (g *Guard) loop() {
	var timer *time.Timer

	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(g.debounce, g.handleDeletion)
	}

	for {
		select {
		case <-g.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-g.fsw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			switch {
			case path == filepath.Clean(g.dbPath) && event.Op&fsnotify.Remove != 0:
				log.Info().Str("path", g.dbPath).Msg("Episode database deleted")
				schedule()

			case path == g.dir && event.Op&fsnotify.Remove != 0:
				log.Info().Str("dir", g.dir).Msg("Data directory deleted")
				schedule()

			case path == g.dir && event.Op&fsnotify.Create != 0:
				// Directory came back; re-anchor the watch.
				_ = g.watchDir()

			case path == filepath.Clean(g.dbPath) && event.Op&fsnotify.Create != 0:
				// The database reappeared before the debounce fired.
				if timer != nil {
					timer.Stop()
				}
			}

		case err, ok := <-g.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (g *Guard) handleDeletion() {
	if g.reopen != nil {
		if err := g.reopen(); err != nil {
			log.Error().Err(err).Str("path", g.dbPath).Msg("Failed to recreate episode database")
		} else {
			log.Info().Str("path", g.dbPath).Msg("Episode database recreated")
		}
	}

	// The data dir may have been recreated by reopen; re-anchor shortly after.
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := g.watchDir(); err != nil {
			log.Warn().Err(err).Str("dir", g.dir).Msg("Failed to re-establish watch")
		}
	}()
}
