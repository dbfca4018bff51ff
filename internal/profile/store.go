// Package profile manages the on-disk browser profile directory that backs
// each session. A profile is created when a session launches and removed when
// the job ends, so every attempt starts from a clean slate.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// ScreenshotsDir is the reserved subdirectory of the root that holds
// screenshots. It is never treated as a profile.
const ScreenshotsDir = "screenshots"

// ErrInvalidSessionID is returned for ids that would escape the profile root.
var ErrInvalidSessionID = errors.New("invalid session id")

// Store owns the profile root directory.
type Store struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore resolves root (expanding a leading ~) to an absolute path.
// The directory itself is created lazily.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	expanded, err := homedir.Expand(root)
	if err != nil {
		return nil, fmt.Errorf("expand profile root %q: %w", root, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve profile root %q: %w", root, err)
	}
	return &Store{root: abs, logger: logger.Named("profile_store"), now: time.Now}, nil
}

// Root returns the absolute profile root.
func (s *Store) Root() string { return s.root }

// ScreenshotDir returns the absolute screenshot directory under the root.
func (s *Store) ScreenshotDir() string { return filepath.Join(s.root, ScreenshotsDir) }

func (s *Store) pathFor(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) || sessionID == ScreenshotsDir {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return filepath.Join(s.root, sessionID), nil
}

// GetOrCreateProfilePath returns the profile directory for sessionID,
// creating it if needed.
func (s *Store) GetOrCreateProfilePath(sessionID string) (string, error) {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", fmt.Errorf("create profile %s: %w", sessionID, err)
	}
	return path, nil
}

// Delete removes the profile for sessionID. Deleting a missing profile is not
// an error.
func (s *Store) Delete(sessionID string) error {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete profile %s: %w", sessionID, err)
	}
	s.logger.Debug("Profile deleted", zap.String("session_id", sessionID))
	return nil
}

// List returns the session ids that currently have a profile.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && e.Name() != ScreenshotsDir {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Sweep deletes every profile last modified more than maxAgeDays ago and
// returns how many were removed. Sweep(0) removes all profiles.
func (s *Store) Sweep(maxAgeDays int) (int, error) {
	ids, err := s.List()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	removed := 0
	var errs []error
	for _, id := range ids {
		info, err := os.Stat(filepath.Join(s.root, id))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if maxAgeDays > 0 && !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.Delete(id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.logger.Info("Profile sweep finished",
		zap.Int("max_age_days", maxAgeDays),
		zap.Int("removed", removed),
		zap.Int("errors", len(errs)))
	return removed, errors.Join(errs...)
}
