// Package util - Logging setup and file helpers shared by the command line tools.
package util

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the frame number taken from the file name, or -1 when it has none.
	Frame int
}

var frameNumber = regexp.MustCompile(`(\d+)$`)

// IsImageFile reports whether the file extension is one the capture providers decode.
func IsImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff":
		return true
	}
	return false
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Files are ordered by the number trailing their base name ("frame-12.jpg" is frame 12).
// Files without a number sort after numbered ones, by name.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() || !IsImageFile(file.Name()) {
			continue
		}

		imgPath := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(imgPath)
		if err != nil {
			return nil, err
		}

		frame := -1
		base := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		if m := frameNumber.FindString(base); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				frame = n
			}
		}

		images = append(images, ImageFile{
			Path:  imgPath,
			Data:  data,
			Frame: frame,
		})
	}

	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		switch {
		case a.Frame >= 0 && b.Frame >= 0 && a.Frame != b.Frame:
			return a.Frame < b.Frame
		case a.Frame >= 0 && b.Frame < 0:
			return true
		case a.Frame < 0 && b.Frame >= 0:
			return false
		}
		return a.Path < b.Path
	})

	return images, nil
}
