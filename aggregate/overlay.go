package aggregate

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/images"
	"github.com/nvr-ai/go-tileinfer/inference"
	"github.com/nvr-ai/go-tileinfer/models"
)

// MaskOpacity is how strongly a mask colour covers the tile.
const MaskOpacity = 0.5

// ClassColor returns the overlay colour for a segmentation class.
func ClassColor(class int) color.NRGBA {
	switch class {
	case models.ClassPositive:
		return color.NRGBA{R: 255, A: 255}
	case models.ClassNegative:
		return color.NRGBA{B: 255, A: 255}
	case models.ClassMisc:
		return color.NRGBA{G: 255, A: 255}
	default:
		return color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	}
}

// Overlay blends each instance mask over a copy of the tile in its class colour.
// Pixels outside every mask keep their original values.
func Overlay(tile images.Frame, instances []inference.Instance) (images.Frame, error) {
	bounds := tile.Bounds()
	var canvas image.Image = tile

	for i, inst := range instances {
		if inst.Mask == nil {
			continue
		}
		if inst.Mask.Bounds().Size() != bounds.Size() {
			return images.Frame{}, errors.Wrapf(inference.ErrContractViolation,
				"instance %d mask is %v, tile is %v", i, inst.Mask.Bounds().Size(), bounds.Size())
		}

		layer := image.NewNRGBA(bounds)
		c := ClassColor(inst.Class)
		mb := inst.Mask.Bounds()
		for y := 0; y < bounds.Dy(); y++ {
			for x := 0; x < bounds.Dx(); x++ {
				if inst.Mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y != 0 {
					layer.SetNRGBA(x, y, c)
				}
			}
		}
		canvas = imaging.Overlay(canvas, layer, image.Pt(0, 0), MaskOpacity)
	}

	return images.FromImage(canvas), nil
}
