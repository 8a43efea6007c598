package persona

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed personas/*.yaml
var embedded embed.FS

// Set is an immutable collection of personas keyed by id.
type Set struct {
	byID map[string]*Persona
	ids  []string
}

// NewSet builds a set, rejecting duplicate ids.
func NewSet(personas ...*Persona) (*Set, error) {
	s := &Set{byID: make(map[string]*Persona, len(personas))}
	for _, p := range personas {
		if _, dup := s.byID[p.ID]; dup {
			return nil, configErr(p.ID, "id", "declared by more than one file")
		}
		s.byID[p.ID] = p
		s.ids = append(s.ids, p.ID)
	}
	sort.Strings(s.ids)
	return s, nil
}

func (s *Set) Get(id string) (*Persona, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// IDs returns the persona ids in sorted order.
func (s *Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Parse decodes one persona file.
func Parse(data []byte, opts Options) (*Persona, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, &ConfigError{Field: "yaml", Reason: err.Error()}
	}
	return New(f, opts)
}

// Load reads every *.yaml and *.yml file at the root of fsys.
func Load(fsys fs.FS, opts Options) (*Set, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read persona dir: %w", err)
	}

	var personas []*Persona
	for _, e := range entries {
		ext := path.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		p, err := Parse(data, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		personas = append(personas, p)
	}
	if len(personas) == 0 {
		return nil, &ConfigError{Field: "dir", Reason: "no persona files found"}
	}
	return NewSet(personas...)
}

// LoadDir loads personas from a directory on disk.
func LoadDir(dir string, opts Options) (*Set, error) {
	return Load(os.DirFS(dir), opts)
}

// Embedded loads the personas compiled into the binary.
func Embedded(opts Options) (*Set, error) {
	sub, err := fs.Sub(embedded, "personas")
	if err != nil {
		return nil, err
	}
	return Load(sub, opts)
}

// LoadSource loads from dir, or the embedded set when dir is empty.
func LoadSource(dir string, opts Options) (*Set, error) {
	if dir == "" {
		return Embedded(opts)
	}
	return LoadDir(dir, opts)
}
