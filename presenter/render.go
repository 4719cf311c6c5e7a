// Package presenter - Subscribers that show loop results: a websocket hub with an HTTP API,
// an OpenCV window and a log sink.
package presenter

import (
	"bytes"
	"encoding/base64"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tileinfer/controller"
	"github.com/nvr-ai/go-tileinfer/images"
)

// Display box the composite is scaled into.
const (
	DisplayWidth  = 400
	DisplayHeight = 400
	JPEGQuality   = 85
)

// Fit scales frame up or down to the largest size that fits in w x h while keeping its
// aspect ratio.
//
// Arguments:
//   - frame: The composite to scale.
//   - w: The box width.
//   - h: The box height.
//
// Returns:
//   - *image.NRGBA: The scaled image, or nil for an empty frame.
func Fit(frame images.Frame, w, h int) *image.NRGBA {
	if frame.Empty() || w <= 0 || h <= 0 {
		return nil
	}
	scale := math.Min(float64(w)/float64(frame.Width), float64(h)/float64(frame.Height))
	dw := int(math.Max(1, math.Round(float64(frame.Width)*scale)))
	dh := int(math.Max(1, math.Round(float64(frame.Height)*scale)))
	return imaging.Resize(frame, dw, dh, imaging.Linear)
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

// Message is the JSON form of a loop event sent to websocket clients.
type Message struct {
	RunID    uuid.UUID `json:"run_id"`
	Sequence uint64    `json:"sequence"`
	Time     time.Time `json:"time"`
	Summary  string    `json:"summary,omitempty"`
	Elapsed  float64   `json:"elapsed_sec"`
	Reused   bool      `json:"reused,omitempty"`
	Error    string    `json:"error,omitempty"`
	// Image is a base64 JPEG of the composite fitted into the display box.
	Image  string `json:"image,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// NewMessage renders ev for clients.
func NewMessage(ev controller.Event) (Message, error) {
	msg := Message{
		RunID:    ev.RunID,
		Sequence: ev.Sequence,
		Time:     ev.Time,
		Summary:  ev.Summary,
		Elapsed:  ev.Elapsed.Seconds(),
		Reused:   ev.Reused,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
		return msg, nil
	}

	img := Fit(ev.Composite, DisplayWidth, DisplayHeight)
	if img == nil {
		return msg, nil
	}
	data, err := EncodeJPEG(img, JPEGQuality)
	if err != nil {
		return Message{}, err
	}
	msg.Image = base64.StdEncoding.EncodeToString(data)
	msg.Width, msg.Height = img.Bounds().Dx(), img.Bounds().Dy()
	return msg, nil
}
