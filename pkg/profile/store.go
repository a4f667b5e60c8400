package profile

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/errors"
)

// Store loads the profile file once and serves it to sessions. The file
// overlays Default(), so a partial profile still has every section.
type Store struct {
	mu      sync.RWMutex
	path    string
	logger  *logrus.Logger
	profile *ConversationProfile
}

// NewStore creates a store backed by the given JSON file. An empty path
// or a missing file yields the default profile.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	s := &Store{
		path:    path,
		logger:  logger,
		profile: Default(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile file over a fresh default.
func (s *Store) Reload() error {
	profile := Default()

	if s.path != "" {
		data, err := os.ReadFile(s.path)
		switch {
		case os.IsNotExist(err):
			s.logger.WithField("path", s.path).Warn("Profile file not found, using defaults")
		case err != nil:
			return errors.Wrap(err, "failed to read profile file")
		default:
			if err := json.Unmarshal(data, profile); err != nil {
				return errors.Wrap(err, "failed to parse profile file")
			}
			s.logger.WithFields(logrus.Fields{
				"path":     s.path,
				"accounts": len(profile.Accounts),
			}).Info("Profile loaded")
		}
	}

	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
	return nil
}

// Get returns the current profile. Callers must not mutate it.
func (s *Store) Get() *ConversationProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}
