// Package models - Model registry entries, metadata and the catalog that lists them.
package models

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownModel is returned when a registry lookup misses.
var ErrUnknownModel = errors.New("unknown model")

// Kind is the closed set of backend variants a model can be served by.
type Kind string

const (
	// KindClassifier produces one confidence vector per tile.
	KindClassifier Kind = "classifier"
	// KindSegmenter produces zero or more masked instances per tile.
	KindSegmenter Kind = "segmenter"
)

// ParseKind maps catalog spellings onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "classifier", "classification":
		return KindClassifier, nil
	case "segmenter", "segmentation", "yolo":
		return KindSegmenter, nil
	default:
		return "", errors.Errorf("unsupported model kind: %q", s)
	}
}

// Source tells where the model artifact lives.
type Source string

const (
	// SourceLocal means Repo is a path on disk.
	SourceLocal Source = "local"
	// SourceRemote means Repo is a URL that must be fetched before loading.
	SourceRemote Source = "remote"
)

// ParseSource maps catalog spellings onto a Source. Hub names such as
// "HuggingFace" are treated as remote.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return SourceLocal, nil
	case "remote", "huggingface", "http", "https":
		return SourceRemote, nil
	default:
		return "", errors.Errorf("unsupported model source: %q", s)
	}
}

// Metadata is the part of a registry entry the inference core consumes.
type Metadata struct {
	// TileSize is the edge length of the square inputs the model was trained on.
	TileSize int
	// Classes is the ordered label list. Index i names output column i.
	Classes []string
	// Info is free-form text shown to the user.
	Info string
}

// Validate checks that the metadata can drive a session.
func (m Metadata) Validate() error {
	if m.TileSize <= 0 {
		return errors.Errorf("tile size must be positive, got %d", m.TileSize)
	}
	if len(m.Classes) == 0 {
		return errors.New("model has no classes")
	}
	return nil
}

// Entry is one model in the registry.
type Entry struct {
	// Name is the unique display name of the model.
	Name string
	// Category groups entries for listing, e.g. "Classification Models".
	Category string
	// TileSize is the trained input edge length in pixels.
	TileSize int
	// Classes is the ordered label list.
	Classes []string
	// Info is free-form text shown to the user.
	Info string
	// Source says how Repo is resolved.
	Source Source
	// Kind selects the backend variant.
	Kind Kind
	// Repo is a file path for local models or a URL for remote ones.
	Repo string
	// Runtime selects the execution engine, "onnx" (default) or "opencv".
	Runtime string
	// Layout is the tensor layout the model expects, "nhwc" (default) or "nchw".
	Layout string
}

// Metadata returns the subset of the entry the core needs.
func (e Entry) Metadata() Metadata {
	return Metadata{
		TileSize: e.TileSize,
		Classes:  append([]string(nil), e.Classes...),
		Info:     e.Info,
	}
}

// Validate checks the entry is complete enough to build a backend from.
func (e Entry) Validate() error {
	if e.Name == "" {
		return errors.New("model has no name")
	}
	if e.Repo == "" {
		return errors.Errorf("model %q has no repo", e.Name)
	}
	if err := e.Metadata().Validate(); err != nil {
		return errors.Wrapf(err, "model %q", e.Name)
	}
	if e.Kind != KindClassifier && e.Kind != KindSegmenter {
		return errors.Errorf("model %q has unsupported kind %q", e.Name, e.Kind)
	}
	return nil
}
