package mbd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ScratchStore persists one file per captured device under a directory, so
// a crashed process can be cleaned up on the next start (spec §4.B
// "On-connect crash-recovery", spec §6 "Bluetooth scratch area"). Content
// is the Bluetooth address only.
type ScratchStore struct {
	dir    string
	suffix string
}

// NewScratchStore returns a store rooted at dir, using suffix (e.g.
// ".btid") for its files.
func NewScratchStore(dir, suffix string) *ScratchStore {
	if suffix == "" {
		suffix = ".btid"
	}
	return &ScratchStore{dir: dir, suffix: suffix}
}

func (s *ScratchStore) pathFor(address string) string {
	safe := strings.ReplaceAll(address, ":", "-")
	return filepath.Join(s.dir, safe+s.suffix)
}

// Persist writes the scratch file for a newly captured device.
func (s *ScratchStore) Persist(address string) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(s.pathFor(address), []byte(address), 0o640)
}

// Remove deletes the scratch file for a cleanly released device. Removing a
// file that doesn't exist is not an error.
func (s *ScratchStore) Remove(address string) error {
	err := os.Remove(s.pathFor(address))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Sweep lists every address with a stale scratch file left over from a
// prior, ungracefully terminated process.
func (s *ScratchStore) Sweep() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), s.suffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		addrs = append(addrs, strings.TrimSpace(string(data)))
	}
	return addrs, nil
}

// WatchForOrphans watches the scratch directory and calls onOrphan whenever
// a new scratch file appears without a matching clean removal soon after --
// this is the external-prompt cleanup path from spec §4.B, using fsnotify
// rather than a polling loop (see SPEC_FULL.md §3 domain stack). It runs
// until ctx is cancelled.
func (s *ScratchStore) WatchForOrphans(ctx context.Context, onOrphan func(address string)) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	var once sync.Once
	go func() {
		defer once.Do(func() { watcher.Close() })
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create == 0 || !strings.HasSuffix(ev.Name, s.suffix) {
					continue
				}
				data, err := os.ReadFile(ev.Name)
				if err != nil {
					continue
				}
				onOrphan(strings.TrimSpace(string(data)))
			case <-watcher.Errors:
				// best-effort: a watch error doesn't stop the process,
				// the next startup Sweep() is the backstop.
			}
		}
	}()
	return nil
}
