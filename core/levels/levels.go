// Package levels holds the immutable quiz level definitions loaded at startup.
package levels

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownLevel is returned when a level id is not registered.
var ErrUnknownLevel = errors.New("levels: unknown level")

// Question is one image to guess and the answers that count as correct.
type Question struct {
	Key     string   `yaml:"key" json:"key"`
	Image   string   `yaml:"image,omitempty" json:"image,omitempty"`
	Answers []string `yaml:"answers" json:"answers"`
}

// Definition is a level as stored on disk.
type Definition struct {
	ID        string     `yaml:"id" json:"id"`
	Name      string     `yaml:"name" json:"name"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Level is a validated, read-only view of a Definition.
type Level struct {
	id      string
	name    string
	keys    []string
	images  map[string]string
	answers map[string]map[string]struct{}
}

// ID returns the level identifier.
func (l *Level) ID() string { return l.id }

// Name returns the display name shown when the level starts.
func (l *Level) Name() string { return l.name }

// Keys returns a copy of the question keys in file order.
func (l *Level) Keys() []string { return append([]string(nil), l.keys...) }

// Has reports whether key is a question of this level.
func (l *Level) Has(key string) bool {
	_, ok := l.answers[key]
	return ok
}

// Image returns the image file name for key.
func (l *Level) Image(key string) (string, bool) {
	img, ok := l.images[key]
	return img, ok
}

// Accepts reports whether answer is correct for key. Matching ignores case and
// surrounding whitespace.
func (l *Level) Accepts(key, answer string) bool {
	set, ok := l.answers[key]
	if !ok {
		return false
	}
	_, ok = set[normalizeAnswer(answer)]
	return ok
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Compile validates d and builds a Level.
func Compile(d Definition) (*Level, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return nil, fmt.Errorf("level: empty id")
	}
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("level %s: empty name", id)
	}
	if len(d.Questions) == 0 {
		return nil, fmt.Errorf("level %s: no questions", id)
	}
	l := &Level{
		id:      id,
		name:    d.Name,
		keys:    make([]string, 0, len(d.Questions)),
		images:  make(map[string]string, len(d.Questions)),
		answers: make(map[string]map[string]struct{}, len(d.Questions)),
	}
	for i, q := range d.Questions {
		key := strings.TrimSpace(q.Key)
		if key == "" {
			return nil, fmt.Errorf("level %s: question %d has empty key", id, i)
		}
		if _, dup := l.answers[key]; dup {
			return nil, fmt.Errorf("level %s: duplicate question key %q", id, key)
		}
		set := make(map[string]struct{}, len(q.Answers))
		for _, a := range q.Answers {
			if n := normalizeAnswer(a); n != "" {
				set[n] = struct{}{}
			}
		}
		if len(set) == 0 {
			return nil, fmt.Errorf("level %s: question %q has no answers", id, key)
		}
		img := strings.TrimSpace(q.Image)
		if img == "" {
			img = key
		}
		l.keys = append(l.keys, key)
		l.images[key] = img
		l.answers[key] = set
	}
	return l, nil
}

// Repository is the process-wide level registry. It is filled during startup
// and only read afterwards, so lookups take no lock.
type Repository struct {
	levels map[string]*Level
	order  []string
}

// NewRepository compiles the provided definitions.
func NewRepository(defs ...Definition) (*Repository, error) {
	r := &Repository{levels: make(map[string]*Level, len(defs))}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles and adds a definition. It must not be called once the
// repository is shared with request handlers.
func (r *Repository) Register(d Definition) error {
	l, err := Compile(d)
	if err != nil {
		return err
	}
	if _, dup := r.levels[l.id]; dup {
		return fmt.Errorf("level %s: registered twice", l.id)
	}
	r.levels[l.id] = l
	r.order = append(r.order, l.id)
	sort.Strings(r.order)
	return nil
}

// Get returns the level with id or ErrUnknownLevel.
func (r *Repository) Get(id string) (*Level, error) {
	if l, ok := r.levels[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, id)
}

// All returns every level sorted by id.
func (r *Repository) All() []*Level {
	out := make([]*Level, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.levels[id])
	}
	return out
}

// Len returns the number of registered levels.
func (r *Repository) Len() int { return len(r.levels) }

// LoadFile reads one level file. YAML and JSON are both accepted; a missing
// id defaults to the file name without extension.
func LoadFile(path string) (Definition, error) {
	var d Definition
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("read level file: %w", err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse level file %s: %w", path, err)
	}
	if strings.TrimSpace(d.ID) == "" {
		d.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return d, nil
}

// LoadDir reads every *.yaml, *.yml and *.json file in dir.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read levels dir: %w", err)
	}
	var defs []Definition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		d, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no level files found in %s", dir)
	}
	return defs, nil
}
