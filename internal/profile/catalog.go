package profile

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"math"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

//go:embed profiles/*.yaml
var builtin embed.FS

// Catalog is the set of known device profiles. It implements tuya.Catalog.
//
// A Catalog is immutable after loading and safe for concurrent use.
type Catalog struct {
	profiles []*Profile
	byType   map[string]*Profile
}

// Load builds a catalog from the built-in profiles plus every *.yaml file in
// dir. A file in dir replaces a built-in profile with the same config type.
// An empty dir loads the built-in profiles only.
func Load(dir string) (*Catalog, error) {
	sub, err := fs.Sub(builtin, "profiles")
	if err != nil {
		return nil, fmt.Errorf("opening built-in profiles: %w", err)
	}

	byType := make(map[string]*Profile)
	if err := loadFS(sub, byType); err != nil {
		return nil, err
	}

	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("reading profiles dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("reading profiles dir: %s is not a directory", dir)
		}
		if err := loadFS(os.DirFS(dir), byType); err != nil {
			return nil, err
		}
	}

	return newCatalog(byType), nil
}

// LoadFS builds a catalog from the *.yaml files at the root of fsys only.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	byType := make(map[string]*Profile)
	if err := loadFS(fsys, byType); err != nil {
		return nil, err
	}
	return newCatalog(byType), nil
}

func newCatalog(byType map[string]*Profile) *Catalog {
	profiles := make([]*Profile, 0, len(byType))
	for _, p := range byType {
		profiles = append(profiles, p)
	}
	slices.SortFunc(profiles, func(a, b *Profile) int {
		return strings.Compare(a.configType, b.configType)
	})
	return &Catalog{profiles: profiles, byType: byType}
}

func loadFS(fsys fs.FS, into map[string]*Profile) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("listing profiles: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}
		p, err := parseFile(fsys, entry.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		into[p.configType] = p
	}
	return errors.Join(errs...)
}

func parseFile(fsys fs.FS, name string) (*Profile, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", name, err)
	}

	p := &Profile{configType: strings.TrimSuffix(name, ".yaml")}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", name, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the profile for a config type.
func (c *Catalog) Get(configType string) (*Profile, error) {
	p, ok := c.byType[configType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, configType)
	}
	return p, nil
}

// List returns all profiles ordered by config type.
func (c *Catalog) List() []*Profile {
	return slices.Clone(c.profiles)
}

// Len returns the number of profiles.
func (c *Catalog) Len() int {
	return len(c.profiles)
}

// MatchCandidates yields, in config type order, each profile whose required
// data points are all present in state with a matching value type.
func (c *Catalog) MatchCandidates(state map[string]any) iter.Seq[tuya.Profile] {
	return func(yield func(tuya.Profile) bool) {
		for _, p := range c.profiles {
			if !matches(p, state) {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// MatchQuality returns the percentage of reported data points, excluding
// the refresh timestamp, that the profile maps with a matching type.
// Profiles from another catalog score zero.
func (c *Catalog) MatchQuality(tp tuya.Profile, state map[string]any) float64 {
	p, ok := tp.(*Profile)
	if !ok {
		return 0
	}

	total := 0
	for id := range state {
		if id != tuya.UpdatedAtKey {
			total++
		}
	}
	if total == 0 {
		return 0
	}

	covered := 0
	for _, e := range p.Entities() {
		for _, dp := range e.DPs {
			v, ok := state[string(dp.ID)]
			if ok && string(dp.ID) != tuya.UpdatedAtKey && typeMatches(dp.Type, v) {
				covered++
			}
		}
	}
	return math.Round(float64(covered) * 100 / float64(total))
}

func matches(p *Profile, state map[string]any) bool {
	for _, e := range p.Entities() {
		for _, dp := range e.DPs {
			v, ok := state[string(dp.ID)]
			if !ok {
				if dp.Optional {
					continue
				}
				return false
			}
			if !typeMatches(dp.Type, v) {
				return false
			}
		}
	}
	return true
}
