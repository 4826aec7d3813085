package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// Workspace is the persisted form of a source/target pair
type Workspace struct {
	Source domain.Endpoint `yaml:"source"`
	Target domain.Endpoint `yaml:"target"`
	Clone  Clone           `yaml:"clone"`
}

// Clone copies selected source fields onto the target when resolving
type Clone struct {
	Username bool `yaml:"username"`
	Password bool `yaml:"password"`
	Root     bool `yaml:"root"`
}

// Any reports whether any field is cloned
func (c Clone) Any() bool {
	return c.Username || c.Password || c.Root
}

// Resolved returns the endpoints with clone toggles applied
func (w Workspace) Resolved() (source, target domain.Endpoint) {
	source, target = w.Source, w.Target
	if w.Clone.Username {
		target.Username = source.Username
	}
	if w.Clone.Password {
		target.Password = source.Password
	}
	if w.Clone.Root {
		target.Root = source.Root
	}
	return source, target
}

// Store reads and writes workspace files
type Store struct {
	fs afero.Fs
}

// NewStore creates a store. A nil fs uses the OS filesystem.
func NewStore(fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs}
}

// Save writes ws to path. Passwords are left out unless withPassword is set.
func (s *Store) Save(path string, ws Workspace, withPassword bool) error {
	if !withPassword {
		ws.Source.Password = ""
		ws.Target.Password = ""
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ws); err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create workspace directory: %w", err)
		}
	}

	// credentials may be inside
	perm := os.FileMode(0644)
	if withPassword {
		perm = 0600
	}
	if err := afero.WriteFile(s.fs, path, buf.Bytes(), perm); err != nil {
		return fmt.Errorf("write workspace: %w", err)
	}
	return nil
}

// Load decodes path into ws. Keys missing from the file keep the values
// already in ws; unknown keys are ignored.
func (s *Store) Load(path string, ws *Workspace) error {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return fmt.Errorf("read workspace: %w", err)
	}

	if err := yaml.Unmarshal(data, ws); err != nil {
		return fmt.Errorf("%w: workspace %s: %v", domain.ErrConfigInvalid, path, err)
	}
	return nil
}
