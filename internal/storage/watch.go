package storage

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads data files edited outside the process (an operator replacing
// whitelist.json, for instance) so the request filter never runs on a stale
// copy. It blocks until ctx is cancelled.
func (s *Storage) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dataDir); err != nil {
		return err
	}
	s.log.Info().Str("dir", s.dataDir).Msg("watching data files")

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !isDataFile(name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(watchDebounce, func() {
				s.log.Debug().Str("file", name).Msg("data file changed, reloading")
				s.Reload(name)
			})
			mu.Unlock()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(werr).Msg("data file watcher error")
		}
	}
}

func isDataFile(name string) bool {
	switch name {
	case UsersFile, WhitelistFile, SettingsFile:
		return true
	}
	return false
}
