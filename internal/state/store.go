package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanun0323/errors"
)

// ErrCorrupt means the snapshot on disk failed its integrity check. The
// process must refuse to start until an operator resolves it; trading on
// an unverified state risks duplicate orders.
var ErrCorrupt = errors.New("state snapshot failed integrity check")

// envelope wraps the snapshot document with its payload checksum.
type envelope struct {
	SHA256   string          `json:"sha256"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// Store reads and writes the snapshot document with an append-then-replace
// pattern: write to a temporary file, fsync, rename over the previous one.
// A crash mid-write leaves the previous valid snapshot untouched.
type Store struct {
	path    string
	backups int
}

// NewStore creates a store at path keeping up to backups rolled copies.
func NewStore(path string, backups int) *Store {
	return &Store{path: path, backups: backups}
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Load reads and verifies the snapshot. found is false on a fresh start.
func (s *Store) Load() (snap *Snapshot, found bool, err error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "read snapshot")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, true, errors.Wrap(ErrCorrupt, err.Error())
	}
	if checksum(env.Snapshot) != env.SHA256 {
		return nil, true, ErrCorrupt
	}

	snap = NewSnapshot()
	if err := json.Unmarshal(env.Snapshot, snap); err != nil {
		return nil, true, errors.Wrap(ErrCorrupt, err.Error())
	}
	return snap, true, nil
}

// Write persists the snapshot atomically, rotating backups first.
func (s *Store) Write(snap *Snapshot) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	env := envelope{SHA256: checksum(payload), Snapshot: payload}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create state dir")
		}
	}
	s.rotateBackups()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "open temp snapshot")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write temp snapshot")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync temp snapshot")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp snapshot")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replace snapshot")
	}
	return nil
}

// rotateBackups shifts snapshot.json.1 -> .2 -> ... and copies the current
// file into the .1 slot. Backups are best effort.
func (s *Store) rotateBackups() {
	if s.backups <= 0 {
		return
	}
	if _, err := os.Stat(s.path); err != nil {
		return
	}
	for i := s.backups - 1; i >= 1; i-- {
		os.Rename(s.backupPath(i), s.backupPath(i+1))
	}
	if data, err := os.ReadFile(s.path); err == nil {
		os.WriteFile(s.backupPath(1), data, 0o644)
	}
}

func (s *Store) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", s.path, n)
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
