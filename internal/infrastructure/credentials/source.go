// Package credentials resolves the vendor access token. Acquisition (OAuth,
// key exchange) happens elsewhere; this package only reads what was
// persisted and keeps it fresh.
package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/opencursor/opencursor/gateway/pkg/safego"
)

// credentialFile is the persisted shape: {"accessToken": "..."}.
type credentialFile struct {
	AccessToken string `json:"accessToken"`
}

// Source serves the current access token. A token from the environment is
// static; a token from the credentials file is hot-reloaded on change. Safe
// for concurrent reads from every in-flight session.
type Source struct {
	mu      sync.RWMutex
	token   string
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewSource builds a token source. envToken (usually CURSOR_ACCESS_TOKEN)
// wins over the file and disables watching.
func NewSource(envToken, path string, logger *zap.Logger) (*Source, error) {
	s := &Source{
		path:   path,
		logger: logger.With(zap.String("component", "credentials")),
	}

	if envToken != "" {
		s.token = envToken
		return s, nil
	}

	if err := s.reload(); err != nil {
		s.logger.Warn("Initial credential load failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return s, nil
	}
	// Watch the directory: editors and the login flow replace the file
	// rather than writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher

	safego.Go(s.logger, "credential-watcher", s.watchLoop)
	return s, nil
}

// Token returns the current access token; empty when none is available.
func (s *Source) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Close stops the file watcher.
func (s *Source) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Source) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var creds credentialFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	if creds.AccessToken == "" {
		return nil
	}
	s.mu.Lock()
	s.token = creds.AccessToken
	s.mu.Unlock()
	s.logger.Info("Access token loaded", zap.String("path", s.path))
	return nil
}

func (s *Source) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if err := s.reload(); err != nil {
					s.logger.Warn("Credential reload failed", zap.Error(err))
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Credential watcher error", zap.Error(err))
		}
	}
}
