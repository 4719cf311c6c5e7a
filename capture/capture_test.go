package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionValidate(t *testing.T) {
	tests := []struct {
		name   string
		region Region
		valid  bool
	}{
		{name: "normal", region: Region{Left: 10, Top: 20, Width: 300, Height: 200}, valid: true},
		{name: "single pixel", region: Region{Width: 1, Height: 1}, valid: true},
		{name: "no width", region: Region{Width: 0, Height: 10}},
		{name: "no height", region: Region{Width: 10, Height: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.region.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRegion)
		})
	}
}

func TestRegionRectangle(t *testing.T) {
	r := Region{Left: 10, Top: 20, Width: 30, Height: 40}
	assert.Equal(t, image.Rect(10, 20, 40, 60), r.Rectangle())
	assert.Equal(t, "30x40+10+20", r.String())
}

func TestRegionRef(t *testing.T) {
	ref := &RegionRef{}
	_, ok := ref.Load()
	assert.False(t, ok)

	first := Region{Width: 4, Height: 4}
	ref, err := NewRegionRef(first)
	require.NoError(t, err)
	got, ok := ref.Load()
	require.True(t, ok)
	assert.Equal(t, first, got)

	// Invalid regions never replace the current one.
	assert.ErrorIs(t, ref.Store(Region{}), ErrInvalidRegion)
	got, _ = ref.Load()
	assert.Equal(t, first, got)

	_, err = NewRegionRef(Region{})
	assert.Error(t, err)
}

func TestRegionRefConcurrentReplace(t *testing.T) {
	ref, err := NewRegionRef(Region{Width: 1, Height: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n uint) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = ref.Store(Region{Left: n, Top: n, Width: n, Height: n})
			}
		}(uint(i))
	}
	for i := 0; i < 1000; i++ {
		r, _ := ref.Load()
		// Readers only ever see whole values.
		require.True(t, r.Left == r.Top && r.Top == r.Width && r.Width == r.Height || r.Left == 0)
	}
	wg.Wait()
}

// gradient returns an NRGBA image where each pixel encodes its coordinates.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func TestImageProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.png")
	require.NoError(t, imaging.Save(gradient(20, 10), path))

	p, err := NewImageProvider(path)
	require.NoError(t, err)
	defer p.Close()

	frame, err := p.Capture(context.Background(), Region{Left: 5, Top: 2, Width: 4, Height: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Width)
	assert.Equal(t, 3, frame.Height)
	r, g, b := frame.RGB(0, 0)
	assert.Equal(t, []uint8{5, 2, 7}, []uint8{r, g, b})

	// Regions past the edge are clipped.
	frame, err = p.Capture(context.Background(), Region{Left: 18, Top: 8, Width: 10, Height: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Width)
	assert.Equal(t, 2, frame.Height)

	_, err = p.Capture(context.Background(), Region{Left: 50, Top: 50, Width: 10, Height: 10})
	assert.ErrorIs(t, err, ErrCapture)

	_, err = p.Capture(context.Background(), Region{Width: 0, Height: 3})
	assert.ErrorIs(t, err, ErrCapture)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Capture(ctx, Region{Width: 1, Height: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirectoryProvider(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 3; i++ {
		img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+3] = uint8(i*10), 255
		}
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("frame-%d.png", i))))
	}

	region := Region{Width: 4, Height: 4}
	reds := func(p Provider, n int) []uint8 {
		var out []uint8
		for i := 0; i < n; i++ {
			f, err := p.Capture(context.Background(), region)
			require.NoError(t, err)
			r, _, _ := f.RGB(0, 0)
			out = append(out, r)
		}
		return out
	}

	looping, err := NewDirectoryProvider(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []uint8{10, 20, 30, 10}, reds(looping, 4))

	once, err := NewDirectoryProvider(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []uint8{10, 20, 30}, reds(once, 3))
	_, err = once.Capture(context.Background(), region)
	assert.ErrorIs(t, err, ErrCapture)

	_, err = NewDirectoryProvider(t.TempDir(), false)
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.IsType(t, &ScreenProvider{}, p)

	_, err = NewProvider(Config{Kind: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewProvider(Config{Kind: KindImage, Source: filepath.Join(t.TempDir(), "missing.png")})
	assert.Error(t, err)
}
