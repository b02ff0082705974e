// Package artifact saves and loads model artifact generations. A generation
// is a directory holding the classifier, amount scaler, city rarity table
// and user profile store, plus a manifest. Generations are written once
// and never modified.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/cities"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/profiles"
)

// Blob file names inside a generation directory.
const (
	ClassifierFile = "classifier.json"
	ScalerFile     = "scaler.json"
	CitiesFile     = "cities.json"
	ProfilesFile   = "profiles.json"
	ManifestFile   = "manifest.yaml"
)

// ErrGenerationExists is returned when saving over an existing generation.
var ErrGenerationExists = errors.New("generation already exists")

// RowCounts records how many rows each corpus contributed.
type RowCounts struct {
	Historical int `yaml:"historical"`
	Feedback   int `yaml:"feedback"`
	Mitigation int `yaml:"mitigation"`
	Dropped    int `yaml:"dropped"`
	Resampled  int `yaml:"resampled"`
}

// Manifest describes how a generation was produced.
type Manifest struct {
	ID        string         `yaml:"id"`
	Parent    string         `yaml:"parent,omitempty"`
	Source    string         `yaml:"source"`
	CreatedAt time.Time      `yaml:"created_at"`
	Seed      uint64         `yaml:"seed"`
	Rows      RowCounts      `yaml:"rows"`
	Features  []string       `yaml:"features"`
	Metrics   domain.Metrics `yaml:"metrics"`
}

// Generation is one immutable bundle of fitted artifacts.
type Generation struct {
	ID         string
	Classifier *model.Logistic
	Scaler     features.Scaler
	Cities     *cities.Table
	Profiles   *profiles.Store
	Manifest   Manifest
}

// Store keeps generations under root/generations/<id>/.
type Store struct {
	dir string

	mu      sync.Mutex
	counter int
}

// NewStore creates the generations directory if needed.
func NewStore(root string) (*Store, error) {
	dir := filepath.Join(root, "generations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the directory of a generation.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id)
}

// NewID returns an unused identifier g<yyyymmddThhmmss>-<n> for t.
func (s *Store) NewID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := t.UTC().Format("20060102T150405")
	for {
		s.counter++
		id := fmt.Sprintf("g%s-%d", stamp, s.counter)
		if _, err := os.Stat(s.Path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
	}
}

// Save writes a generation atomically: blobs go to a temporary directory
// that is renamed into place. Saving an existing ID fails.
func (s *Store) Save(g *Generation) (string, error) {
	if g.ID == "" || strings.ContainsAny(g.ID, `/\`) || strings.HasPrefix(g.ID, ".") {
		return "", fmt.Errorf("%w: generation id %q", domain.ErrInvalidInput, g.ID)
	}
	if g.Classifier == nil || g.Cities == nil || g.Profiles == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrIncompleteGeneration, g.ID)
	}
	final := s.Path(g.ID)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("%w: %s", ErrGenerationExists, g.ID)
	}

	tmp, err := os.MkdirTemp(s.dir, ".tmp-"+g.ID+"-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	g.Manifest.ID = g.ID
	if len(g.Manifest.Features) == 0 {
		g.Manifest.Features = domain.FeatureNames[:]
	}

	blobs := []struct {
		name string
		v    any
	}{
		{ClassifierFile, g.Classifier},
		{ScalerFile, g.Scaler},
		{CitiesFile, g.Cities},
		{ProfilesFile, g.Profiles},
	}
	for _, b := range blobs {
		data, err := json.Marshal(b.v)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", b.name, err)
		}
		if err := writeFile(filepath.Join(tmp, b.name), data); err != nil {
			return "", err
		}
	}

	manifest, err := yaml.Marshal(g.Manifest)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFile(filepath.Join(tmp, ManifestFile), manifest); err != nil {
		return "", err
	}

	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("%w: %s", ErrGenerationExists, g.ID)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("publish generation %s: %w", g.ID, err)
	}
	return final, nil
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Load reads a generation. A missing generation returns
// domain.ErrGenerationNotFound; a generation missing any blob returns
// domain.ErrIncompleteGeneration.
func (s *Store) Load(id string) (*Generation, error) {
	dir := s.Path(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGenerationNotFound, id)
	}

	read := func(name string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: missing %s", domain.ErrIncompleteGeneration, id, name)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}

	g := &Generation{ID: id}

	data, err := read(ClassifierFile)
	if err != nil {
		return nil, err
	}
	if g.Classifier, err = model.Decode(data); err != nil {
		return nil, fmt.Errorf("generation %s: %w", id, err)
	}

	if data, err = read(ScalerFile); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &g.Scaler); err != nil {
		return nil, fmt.Errorf("generation %s: decode scaler: %w", id, err)
	}
	if err := g.Scaler.Validate(); err != nil {
		return nil, fmt.Errorf("generation %s: %w", id, err)
	}

	if data, err = read(CitiesFile); err != nil {
		return nil, err
	}
	g.Cities = &cities.Table{}
	if err := json.Unmarshal(data, g.Cities); err != nil {
		return nil, fmt.Errorf("generation %s: decode cities: %w", id, err)
	}

	if data, err = read(ProfilesFile); err != nil {
		return nil, err
	}
	g.Profiles = &profiles.Store{}
	if err := json.Unmarshal(data, g.Profiles); err != nil {
		return nil, fmt.Errorf("generation %s: decode profiles: %w", id, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, ManifestFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &g.Manifest); err != nil {
			return nil, fmt.Errorf("generation %s: decode manifest: %w", id, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		g.Manifest = Manifest{ID: id}
	default:
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return g, nil
}
