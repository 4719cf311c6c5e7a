package capture

import (
	"bytes"
	"context"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/util"
)

// ImageProvider serves every capture from one still image.
type ImageProvider struct {
	frame images.Frame
}

// NewImageProvider decodes the image at path. EXIF orientation is applied.
func NewImageProvider(path string) (*ImageProvider, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	return &ImageProvider{frame: images.FromImage(img)}, nil
}

// Capture implements Provider.
func (p *ImageProvider) Capture(ctx context.Context, region Region) (images.Frame, error) {
	if err := ctx.Err(); err != nil {
		return images.Frame{}, err
	}
	return cropRegion(p.frame, region)
}

// Close implements Provider.
func (p *ImageProvider) Close() error {
	return nil
}

// DirectoryProvider replays the images of a directory in frame order, one per capture.
type DirectoryProvider struct {
	mu    sync.Mutex
	dir   string
	loop  bool
	files []util.ImageFile
	next  int
}

// NewDirectoryProvider loads the frame list from dir.
func NewDirectoryProvider(dir string, loop bool) (*DirectoryProvider, error) {
	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "load frames from %s", dir)
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frames found in %s", dir)
	}
	return &DirectoryProvider{dir: dir, loop: loop, files: files}, nil
}

// Capture implements Provider.
func (p *DirectoryProvider) Capture(ctx context.Context, region Region) (images.Frame, error) {
	if err := ctx.Err(); err != nil {
		return images.Frame{}, err
	}

	p.mu.Lock()
	if p.next == len(p.files) {
		if !p.loop {
			p.mu.Unlock()
			return images.Frame{}, errors.Wrapf(ErrCapture, "frames in %s exhausted", p.dir)
		}
		p.next = 0
	}
	file := p.files[p.next]
	p.next++
	p.mu.Unlock()

	img, err := imaging.Decode(bytes.NewReader(file.Data))
	if err != nil {
		return images.Frame{}, errors.Wrapf(ErrCapture, "decode %s: %v", file.Path, err)
	}
	return cropRegion(images.FromImage(img), region)
}

// Close implements Provider.
func (p *DirectoryProvider) Close() error {
	return nil
}
