package images

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ComputeChecksum generates a deterministic checksum for a Frame, used to verify idempotency
// of tiling and to detect untouched tiles in composites.
//
// Arguments:
//   - f: The frame to compute the checksum for.
//
// Returns:
//   - string: A hex-encoded MD5 checksum of the dimensions and pixels.
func ComputeChecksum(f Frame) string {
	if f.Empty() {
		return "empty"
	}

	hash := md5.New()
	var dims [16]byte
	binary.LittleEndian.PutUint64(dims[0:8], uint64(f.Width))
	binary.LittleEndian.PutUint64(dims[8:16], uint64(f.Height))
	hash.Write(dims[:])
	hash.Write(f.Pix)
	return fmt.Sprintf("%x", hash.Sum(nil))
}

// FromMat converts an OpenCV BGR or BGRA matrix into an RGB frame.
//
// Arguments:
//   - mat: An 8-bit matrix with 3 (BGR) or 4 (BGRA) channels.
//
// Returns:
//   - Frame: The converted frame.
//   - error: An error if the matrix is empty or has an unsupported layout.
func FromMat(mat gocv.Mat) (Frame, error) {
	if mat.Empty() {
		return Frame{}, errors.New("empty mat")
	}

	var code gocv.ColorConversionCode
	switch mat.Channels() {
	case 3:
		code = gocv.ColorBGRToRGB
	case 4:
		code = gocv.ColorBGRAToRGB
	default:
		return Frame{}, errors.Errorf("unsupported channel count %d", mat.Channels())
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	if err := gocv.CvtColor(mat, &rgb, code); err != nil {
		return Frame{}, errors.Wrap(err, "convert to rgb")
	}
	if rgb.Type() != gocv.MatTypeCV8UC3 {
		return Frame{}, errors.Errorf("unsupported mat type %v", mat.Type())
	}

	data := rgb.ToBytes()
	out := Frame{Width: rgb.Cols(), Height: rgb.Rows(), Pix: make([]uint8, len(data))}
	copy(out.Pix, data)
	return out, nil
}

// ToMat converts a frame into a BGR OpenCV matrix. The caller owns the returned Mat.
func ToMat(f Frame) (gocv.Mat, error) {
	if f.Empty() {
		return gocv.NewMat(), errors.New("empty frame")
	}

	rgb, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "wrap frame")
	}
	defer rgb.Close()

	bgr := gocv.NewMat()
	if err := gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR); err != nil {
		bgr.Close()
		return gocv.NewMat(), errors.Wrap(err, "convert to bgr")
	}
	return bgr, nil
}
