package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
)

// Resolve returns a local file path for the entry's model artifact.
//
// Local entries resolve to their Repo path. Remote entries are downloaded once into
// cacheDir and reused afterwards; the cached file name is derived from the URL so two
// entries pointing at the same artifact share a download.
//
// Arguments:
//   - ctx: Cancels the download.
//   - e: The registry entry.
//   - cacheDir: Where remote artifacts are stored.
//
// Returns:
//   - string: The path to load the model from.
//   - error: An error if the artifact is missing or cannot be fetched.
func Resolve(ctx context.Context, e Entry, cacheDir string) (string, error) {
	if e.Source != SourceRemote {
		if _, err := os.Stat(e.Repo); err != nil {
			return "", errors.Wrapf(err, "model %q", e.Name)
		}
		return e.Repo, nil
	}

	sum := sha256.Sum256([]byte(e.Repo))
	dst := filepath.Join(cacheDir, hex.EncodeToString(sum[:8])+"-"+path.Base(e.Repo))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create model cache")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.Repo, nil)
	if err != nil {
		return "", errors.Wrapf(err, "model %q", e.Name)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetch model %q", e.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("fetch model %q: %s", e.Name, resp.Status)
	}

	// Download next to the destination and rename so a partial file is never picked up.
	tmp, err := os.CreateTemp(cacheDir, ".download-*")
	if err != nil {
		return "", errors.Wrap(err, "create model cache file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "fetch model %q", e.Name)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "write model cache file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Wrap(err, "store model cache file")
	}
	return dst, nil
}
