package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type snapshot struct {
	ActiveSessionID string              `json:"activeSessionId,omitempty"`
	Sessions        map[string]*Session `json:"sessions"`
}

// Open loads the collection stored at path (an absent file is an empty
// collection) and saves it back after every mutation.
func Open(path string) (*Store, error) {
	s := NewStore()
	if err := s.Load(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.persist = func() error { return s.Save(path) }
	s.mu.Unlock()
	return s, nil
}

// readSnapshot decodes path. A missing file is an empty snapshot.
func readSnapshot(path string) (snapshot, error) {
	snap := snapshot{Sessions: map[string]*Session{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("failed to read sessions: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to parse sessions %s: %w", path, err)
	}

	sessions := make(map[string]*Session, len(snap.Sessions))
	for id, sess := range snap.Sessions {
		if sess == nil {
			continue
		}
		sess.ID = id
		if sess.Messages == nil {
			sess.Messages = []Message{}
		}
		sessions[id] = sess
	}
	snap.Sessions = sessions
	return snap, nil
}

func idSet(sessions map[string]*Session) map[string]struct{} {
	ids := make(map[string]struct{}, len(sessions))
	for id := range sessions {
		ids[id] = struct{}{}
	}
	return ids
}

// Load replaces the in-memory collection with the contents of path. A stale
// active id that names no session is dropped. Unsaved local edits are
// discarded.
func (s *Store) Load(path string) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions = snap.Sessions
	s.activeID = ""
	if _, ok := snap.Sessions[snap.ActiveSessionID]; ok {
		s.activeID = snap.ActiveSessionID
	}
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
	s.activeDirty = false
	s.synced = idSet(snap.Sessions)
	s.syncedPath = path
	s.mu.Unlock()
	return nil
}

// Reload is Load that keeps the current active session when the file still
// holds it. Nothing is written back.
func (s *Store) Reload(path string) error {
	active := s.ActiveSessionID()
	if err := s.Load(path); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.sessions[active]; ok && s.activeID != active {
		s.activeID = active
		s.activeDirty = true
	}
	s.mu.Unlock()
	return nil
}

// Save writes the collection to path atomically. Sessions another process
// added or changed in the file since this store last read it are kept; only
// the sessions edited here replace their stored copies. The merged result
// becomes the in-memory collection.
func (s *Store) Save(path string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	disk, err := readSnapshot(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	synced := s.synced
	if s.syncedPath != path {
		synced = nil
	}

	merged := disk.Sessions
	for id, sess := range s.sessions {
		_, edited := s.dirty[id]
		_, onDisk := merged[id]
		_, known := synced[id]
		switch {
		case edited:
			merged[id] = sess
		case !onDisk && known:
			// deleted by another process
		case !onDisk:
			merged[id] = sess
		}
	}
	for id := range s.deleted {
		delete(merged, id)
	}

	active := disk.ActiveSessionID
	if s.activeDirty || s.syncedPath != path {
		active = s.activeID
	}
	if _, ok := merged[active]; !ok {
		active = ""
	}

	data, err := json.MarshalIndent(snapshot{ActiveSessionID: active, Sessions: merged}, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	edits, deletions, activeEdited := s.dirty, s.deleted, s.activeDirty
	s.sessions = merged
	if _, ok := merged[s.activeID]; !ok {
		s.activeID = ""
	}
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
	s.activeDirty = false
	s.synced = idSet(merged)
	s.syncedPath = path
	s.mu.Unlock()

	if err := writeFileAtomic(path, data); err != nil {
		s.mu.Lock()
		for id := range edits {
			s.dirty[id] = struct{}{}
		}
		for id := range deletions {
			s.deleted[id] = struct{}{}
		}
		s.activeDirty = s.activeDirty || activeEdited
		s.mu.Unlock()
		return err
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace sessions file: %w", err)
	}
	return nil
}
