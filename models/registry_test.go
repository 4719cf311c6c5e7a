package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
categories:
  - name: Classification Models
    models:
      - name: Tumor Compact (VGG19)
        info_file: metadata/vgg.json
  - name: Segmentation Models
    models:
      - name: MIB (YOLO)
        info_file: metadata/yolo.json
`

const testVGG = `{
  "tile_size": 224,
  "classes": ["tumor", "stroma", "necrosis"],
  "info": "VGG19 classifier",
  "repo_src": "Local",
  "model": "VGG19",
  "repo": "weights/vgg.onnx"
}`

const testYOLO = `{
  "tile_size": 640,
  "classes": ["positive", "negative", "misc"],
  "info": "YOLO segmenter",
  "repo_src": "Local",
  "model": "YOLO",
  "repo": "weights/yolo.onnx",
  "layout": "NCHW"
}`

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "metadata"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(testCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata", "vgg.json"), []byte(testVGG), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata", "yolo.json"), []byte(testYOLO), 0o644))
	return filepath.Join(dir, "catalog.yaml")
}

func TestLoadRegistry(t *testing.T) {
	path := writeCatalog(t)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"MIB (YOLO)", "Tumor Compact (VGG19)"}, reg.Names())
	assert.Equal(t, []Category{
		{Name: "Classification Models", Models: []string{"Tumor Compact (VGG19)"}},
		{Name: "Segmentation Models", Models: []string{"MIB (YOLO)"}},
	}, reg.Categories())

	vgg, err := reg.Get("Tumor Compact (VGG19)")
	require.NoError(t, err)
	assert.Equal(t, KindClassifier, vgg.Kind)
	assert.Equal(t, SourceLocal, vgg.Source)
	assert.Equal(t, 224, vgg.TileSize)
	assert.Equal(t, "onnx", vgg.Runtime)
	assert.Equal(t, "nhwc", vgg.Layout)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "weights", "vgg.onnx"), vgg.Repo)

	yolo, err := reg.Get("MIB (YOLO)")
	require.NoError(t, err)
	assert.Equal(t, KindSegmenter, yolo.Kind)
	assert.Equal(t, "nchw", yolo.Layout)

	assert.Equal(t, []string{"MIB (YOLO)"}, reg.OfKind(KindSegmenter))
}

func TestRegistryClassesAreSorted(t *testing.T) {
	reg, err := LoadRegistry(writeCatalog(t))
	require.NoError(t, err)

	classes, err := reg.Classes("Tumor Compact (VGG19)")
	require.NoError(t, err)
	assert.Equal(t, []string{"necrosis", "stroma", "tumor"}, classes)

	// The entry keeps model output order.
	e, _ := reg.Get("Tumor Compact (VGG19)")
	assert.Equal(t, []string{"tumor", "stroma", "necrosis"}, e.Classes)
}

func TestRegistryUnknownModel(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestNewRegistryRejectsInvalidEntries(t *testing.T) {
	valid := Entry{Name: "a", TileSize: 8, Classes: []string{"x"}, Kind: KindClassifier, Repo: "a.onnx"}

	_, err := NewRegistry(valid, valid)
	assert.Error(t, err)

	noTile := valid
	noTile.TileSize = 0
	_, err = NewRegistry(noTile)
	assert.Error(t, err)

	noKind := valid
	noKind.Kind = ""
	_, err = NewRegistry(noKind)
	assert.Error(t, err)
}

func TestParseKindAndSource(t *testing.T) {
	k, err := ParseKind("Segmentation")
	require.NoError(t, err)
	assert.Equal(t, KindSegmenter, k)

	_, err = ParseKind("detector")
	assert.Error(t, err)

	s, err := ParseSource("HuggingFace")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, s)

	s, err = ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, s)
}

func TestEntryMetadataIsACopy(t *testing.T) {
	e := Entry{Name: "a", TileSize: 8, Classes: []string{"x", "y"}, Info: "i"}
	md := e.Metadata()
	md.Classes[0] = "changed"

	assert.Equal(t, "x", e.Classes[0])
	assert.Equal(t, "y", md.ClassName(1))
	assert.Equal(t, "class_5", md.ClassName(5))
	assert.Equal(t, 1, md.ClassIndex("y"))
	assert.Equal(t, -1, md.ClassIndex("z"))
}

func TestRecommendation(t *testing.T) {
	text := Recommendation(224)
	assert.Contains(t, text, "224 x 224 (px)")
	assert.Contains(t, text, "sliced into smaller images")
}

func TestResolveRemoteCachesDownload(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("onnx-bytes"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	e := Entry{Name: "remote", Source: SourceRemote, Repo: srv.URL + "/model.onnx"}

	p1, err := Resolve(context.Background(), e, cache)
	require.NoError(t, err)
	p2, err := Resolve(context.Background(), e, cache)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, hits)
	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))
}

func TestResolveLocalMissing(t *testing.T) {
	_, err := Resolve(context.Background(), Entry{Name: "x", Repo: "/does/not/exist.onnx"}, t.TempDir())
	assert.Error(t, err)
}
