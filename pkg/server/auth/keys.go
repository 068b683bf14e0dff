// Package auth holds the API key allow-list used by all three ingest
// listeners and the query API.
package auth

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/racepulse/telemetry-relay-go/log"
)

// KeySet validates API keys against a static list plus an optional
// key file (one key per line, '#' comments). The file is watched so
// keys can be rotated without a restart.
type KeySet struct {
	mu       sync.RWMutex
	static   map[string]struct{}
	fromFile map[string]struct{}
	logger   *log.Logger
	watcher  *fsnotify.Watcher
}

func NewKeySet(keys []string, logger *log.Logger) *KeySet {
	if logger == nil {
		logger = log.Default().Named("auth")
	}
	ks := &KeySet{
		static: make(map[string]struct{}, len(keys)),
		logger: logger,
	}
	for _, k := range keys {
		if k != "" {
			ks.static[k] = struct{}{}
		}
	}
	return ks
}

// Validate reports whether key is in the allow-list.
func (ks *KeySet) Validate(key string) bool {
	if key == "" {
		return false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if _, ok := ks.static[key]; ok {
		return true
	}
	_, ok := ks.fromFile[key]
	return ok
}

// WatchFile loads path and reloads it on every change.
func (ks *KeySet) WatchFile(path string) error {
	if err := ks.loadFile(path); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	ks.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					if err := ks.loadFile(path); err != nil {
						ks.logger.Warn("reload api key file", log.ErrorField(err))
					} else {
						ks.logger.Info("api key file reloaded", log.String("path", path))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				ks.logger.Warn("api key file watcher", log.ErrorField(err))
			}
		}
	}()
	return nil
}

func (ks *KeySet) Close() {
	if ks.watcher != nil {
		ks.watcher.Close()
	}
}

func (ks *KeySet) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	keys := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	ks.mu.Lock()
	ks.fromFile = keys
	ks.mu.Unlock()
	return nil
}
