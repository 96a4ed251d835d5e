package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/xixas/interview-app-sub000/internal/fileutil"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing changes.
const subscriberBuffer = 16

// FileStore is a Store backed by a YAML file. External writes to the file
// are picked up by a watcher and fanned out to subscribers; writes through
// Set are persisted and fanned out directly.
type FileStore struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	values  map[string]string
	subs    map[int]chan Change
	nextSub int
	closed  bool

	watcher  *fsnotify.Watcher
	watchEnd chan struct{}
}

var _ Store = (*FileStore)(nil)

// OpenFile loads the settings file at path, creating an empty one if it
// does not exist, and starts watching it for external edits.
func OpenFile(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("settings path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := fileutil.EnsureDirForFile(path); err != nil {
		return nil, fmt.Errorf("create settings directory: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if writeErr := os.WriteFile(path, []byte("{}\n"), 0o644); writeErr != nil {
			return nil, fmt.Errorf("create settings file: %w", writeErr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat settings file: %w", err)
	}

	values, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create settings watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch settings file: %w", err)
	}

	s := &FileStore{
		path:     path,
		log:      logger,
		values:   values,
		subs:     make(map[int]chan Change),
		watcher:  watcher,
		watchEnd: make(chan struct{}),
	}
	go s.watch()

	s.log.Debug("settings store opened", "path", path, "keys", len(values))
	return s, nil
}

func loadFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	values := make(map[string]string)
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return values, nil
}

// Get returns the value for key.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Set stores and persists value under key, then notifies subscribers. A
// no-op write (same value) is not persisted and not announced.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("settings store is closed")
	}
	if current, ok := s.values[key]; ok && current == value {
		s.mu.Unlock()
		return nil
	}
	s.values[key] = value
	snapshot := make(map[string]string, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if err := writeFile(s.path, snapshot); err != nil {
		return err
	}
	s.notify(Change{Key: key, Value: value})
	return nil
}

// writeFile persists the settings atomically: marshal, write a sibling temp
// file, rename over the target. An atomic save also means the watcher sees
// a create event, which the watch loop handles by re-adding the path.
func writeFile(path string, values map[string]string) error {
	raw, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

// Subscribe registers a change listener. The returned cancel function must
// be called to release it.
func (s *FileStore) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// notify fans one change out to all subscribers without blocking.
func (s *FileStore) notify(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		select {
		case sub <- change:
		default:
			s.log.Warn("settings subscriber lagging, dropping change",
				"subscriber", id, "key", change.Key)
		}
	}
}

// watch re-reads the file on external writes and announces the keys whose
// values actually changed. A failed re-read keeps the previous values.
func (s *FileStore) watch() {
	defer close(s.watchEnd)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// Editors often save via rename, so creates matter too.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.reload()
			// Re-add in case an atomic save replaced the inode.
			_ = s.watcher.Add(s.path)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("settings watcher error", "error", err)
		}
	}
}

func (s *FileStore) reload() {
	loaded, err := loadFile(s.path)
	if err != nil {
		s.log.Error("settings reload failed, keeping previous values",
			"path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	var changes []Change
	for key, value := range loaded {
		if current, ok := s.values[key]; !ok || current != value {
			changes = append(changes, Change{Key: key, Value: value})
		}
	}
	for key := range s.values {
		if _, ok := loaded[key]; !ok {
			changes = append(changes, Change{Key: key})
		}
	}
	s.values = loaded
	s.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	s.log.Debug("settings reloaded", "path", s.path, "changed", len(changes))
	for _, change := range changes {
		s.notify(change)
	}
}

// Close stops the watcher and closes all subscriber channels.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[int]chan Change)
	s.mu.Unlock()

	err := s.watcher.Close()
	<-s.watchEnd
	for _, sub := range subs {
		close(sub)
	}
	if err != nil {
		return fmt.Errorf("close settings watcher: %w", err)
	}
	return nil
}
