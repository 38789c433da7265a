package permission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/snapgo/internal/debug"
)

// Policy decides what a Request yields for one capability.
type Policy string

const (
	PolicyAuto  Policy = "auto"  // grant when the probe succeeds
	PolicyGrant Policy = "grant" // always grant
	PolicyDeny  Policy = "deny"  // always deny
)

// Probe checks whether the backing device of a capability is usable.
type Probe func(ctx context.Context) error

type decision struct {
	Status    Status    `yaml:"status"`
	DecidedAt time.Time `yaml:"decided_at"`
}

type stateFile struct {
	Permissions map[Capability]decision `yaml:"permissions"`
}

// FileStore persists permission decisions in a YAML file.
type FileStore struct {
	path     string
	policies map[Capability]Policy
	probes   map[Capability]Probe

	mu      sync.Mutex
	loaded  bool
	loadErr error // last failed Load, reported as Denied
	state   stateFile
}

// NewFileStore creates a store backed by path. Status is Unknown until Load
// has run (it runs implicitly on the first Request).
func NewFileStore(path string, policies map[Capability]Policy, probes map[Capability]Probe) *FileStore {
	return &FileStore{
		path:     path,
		policies: policies,
		probes:   probes,
		state:    stateFile{Permissions: make(map[Capability]decision)},
	}
}

// Load reads previously recorded decisions. A missing file is not an error.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() error {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.loadErr = fmt.Errorf("read permission state: %w", err)
		return s.loadErr
	default:
		var st stateFile
		if err := yaml.Unmarshal(data, &st); err != nil {
			s.loadErr = fmt.Errorf("unmarshal permission state: %w", err)
			return s.loadErr
		}
		if st.Permissions != nil {
			s.state = st
		}
	}
	s.loaded = true
	s.loadErr = nil
	return nil
}

// Status returns the recorded decision, Denied when none is recorded.
func (s *FileStore) Status(_ context.Context, c Capability) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Denied, s.loadErr
	}
	if !s.loaded {
		return Unknown, nil
	}
	d, ok := s.state.Permissions[c]
	if !ok {
		return Denied, nil
	}
	return d.Status, nil
}

// Request applies the capability's policy and records the outcome.
func (s *FileStore) Request(ctx context.Context, c Capability) (Status, error) {
	status := s.decide(ctx, c)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			// The unreadable file is replaced by this decision.
			debug.Errorf("discarding permission state", err, "path", s.path)
			s.state = stateFile{Permissions: make(map[Capability]decision)}
			s.loaded = true
			s.loadErr = nil
		}
	}
	s.state.Permissions[c] = decision{Status: status, DecidedAt: time.Now().UTC()}
	if err := s.saveLocked(); err != nil {
		return status, err
	}
	return status, nil
}

func (s *FileStore) decide(ctx context.Context, c Capability) Status {
	switch s.policies[c] {
	case PolicyGrant:
		return Granted
	case PolicyAuto:
		probe := s.probes[c]
		if probe == nil {
			return Granted
		}
		if err := probe(ctx); err != nil {
			return Denied
		}
		return Granted
	default:
		return Denied
	}
}

func (s *FileStore) saveLocked() error {
	data, err := yaml.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("marshal permission state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create permission state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write permission state: %w", err)
	}
	return os.Rename(tmp, s.path)
}
