// Package models - registry for models.
package models

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Category is a named group of models, listed in catalog order.
type Category struct {
	Name   string
	Models []string
}

// Registry maps model names to their entries. It is built once and passed explicitly to
// whatever constructs a session; it holds no process-wide state.
type Registry struct {
	entries    map[string]Entry
	categories []Category
}

// NewRegistry creates a registry from already validated entries. Entries keep their
// Category; categories are listed in order of first appearance.
//
// Arguments:
//   - entries: The models to register. Names must be unique.
//
// Returns:
//   - *Registry: The registry.
//   - error: An error if an entry is invalid or a name is registered twice.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.entries[e.Name]; ok {
			return nil, errors.Errorf("model %q registered twice", e.Name)
		}
		r.entries[e.Name] = e

		idx := lo.IndexOf(lo.Map(r.categories, func(c Category, _ int) string { return c.Name }), e.Category)
		if idx < 0 {
			r.categories = append(r.categories, Category{Name: e.Category})
			idx = len(r.categories) - 1
		}
		r.categories[idx].Models = append(r.categories[idx].Models, e.Name)
	}
	return r, nil
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, errors.Wrapf(ErrUnknownModel, "%q", name)
	}
	return e, nil
}

// Names returns every registered model name in lexical order.
func (r *Registry) Names() []string {
	names := lo.Keys(r.entries)
	sort.Strings(names)
	return names
}

// Categories returns the catalog groups in catalog order.
func (r *Registry) Categories() []Category {
	return lo.Map(r.categories, func(c Category, _ int) Category {
		return Category{Name: c.Name, Models: append([]string(nil), c.Models...)}
	})
}

// OfKind returns the names of all models served by the given backend variant.
func (r *Registry) OfKind(kind Kind) []string {
	names := lo.Filter(r.Names(), func(name string, _ int) bool {
		return r.entries[name].Kind == kind
	})
	return names
}

// Classes returns the model's label list sorted for display.
func (r *Registry) Classes(name string) ([]string, error) {
	e, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	classes := append([]string(nil), e.Classes...)
	sort.Strings(classes)
	return classes, nil
}

// catalogFile mirrors the on-disk catalog.
type catalogFile struct {
	Categories []struct {
		Name   string `mapstructure:"name"`
		Models []struct {
			Name     string `mapstructure:"name"`
			InfoFile string `mapstructure:"info_file"`
		} `mapstructure:"models"`
	} `mapstructure:"categories"`
}

// metadataFile mirrors a per-model metadata file.
type metadataFile struct {
	TileSize int      `mapstructure:"tile_size"`
	Classes  []string `mapstructure:"classes"`
	Info     string   `mapstructure:"info"`
	RepoSrc  string   `mapstructure:"repo_src"`
	Model    string   `mapstructure:"model"`
	Kind     string   `mapstructure:"kind"`
	Repo     string   `mapstructure:"repo"`
	Runtime  string   `mapstructure:"runtime"`
	Layout   string   `mapstructure:"layout"`
}

// LoadRegistry reads a catalog file and every metadata file it references.
//
// The catalog lists categories of models, each model naming a metadata file whose path
// is resolved relative to the catalog. Any format viper understands (YAML, JSON, TOML)
// works for either file.
//
// Arguments:
//   - path: The catalog file.
//
// Returns:
//   - *Registry: The loaded registry.
//   - error: An error if any file cannot be read or describes an invalid model.
func LoadRegistry(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}

	var catalog catalogFile
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, errors.Wrapf(err, "decode catalog %s", path)
	}

	dir := filepath.Dir(path)
	var entries []Entry
	for _, category := range catalog.Categories {
		for _, m := range category.Models {
			infoPath := m.InfoFile
			if !filepath.IsAbs(infoPath) {
				infoPath = filepath.Join(dir, infoPath)
			}
			e, err := LoadEntry(m.Name, infoPath)
			if err != nil {
				return nil, err
			}
			e.Category = category.Name
			if e.Source == SourceLocal && !filepath.IsAbs(e.Repo) {
				e.Repo = filepath.Join(dir, e.Repo)
			}
			entries = append(entries, e)
		}
	}

	return NewRegistry(entries...)
}

// LoadEntry reads one model metadata file.
//
// The backend variant comes from the "kind" key. Older metadata without it names the
// architecture in "model", where YOLO denotes a segmenter and anything else a classifier.
func LoadEntry(name, path string) (Entry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("runtime", "onnx")
	v.SetDefault("layout", "nhwc")
	if err := v.ReadInConfig(); err != nil {
		return Entry{}, errors.Wrapf(err, "read metadata for %q", name)
	}

	var md metadataFile
	if err := v.Unmarshal(&md); err != nil {
		return Entry{}, errors.Wrapf(err, "decode metadata for %q", name)
	}

	source, err := ParseSource(md.RepoSrc)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "model %q", name)
	}

	kindName := md.Kind
	if kindName == "" {
		kindName = string(KindClassifier)
		if strings.EqualFold(md.Model, "yolo") {
			kindName = string(KindSegmenter)
		}
	}
	kind, err := ParseKind(kindName)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "model %q", name)
	}

	e := Entry{
		Name:     name,
		TileSize: md.TileSize,
		Classes:  md.Classes,
		Info:     md.Info,
		Source:   source,
		Kind:     kind,
		Repo:     md.Repo,
		Runtime:  strings.ToLower(md.Runtime),
		Layout:   strings.ToLower(md.Layout),
	}
	return e, e.Validate()
}
