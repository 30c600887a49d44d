// Package qrcode extracts the text payload of a QR code from a photographed or
// screenshotted image, retrying at several scales before giving up.
package qrcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
)

// Reason is the closed set of decode failure categories.
type Reason string

const (
	ReasonAlignment  Reason = "alignment"
	ReasonNotFound   Reason = "not_found"
	ReasonProcessing Reason = "processing"
)

// DefaultContrast is the contrast boost applied after normalization, in percent.
const DefaultContrast = 30.0

// DefaultScales is the order in which scale factors are attempted.
var DefaultScales = []float64{1.0, 1.5, 0.5}

// ErrDecodeFailed matches every *DecodeError via errors.Is.
var ErrDecodeFailed = errors.New("qr decode failed")

// DecodeError reports that no scale produced a payload.
type DecodeError struct {
	Reason Reason
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("qr decode failed: %s", e.Reason)
	}
	return fmt.Sprintf("qr decode failed: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailed
}

// BitmapDecoder reads a QR payload from a prepared image.
type BitmapDecoder func(img image.Image) (string, error)

// Decoder enhances an image and tries each configured scale until one yields
// a non-empty payload.
type Decoder struct {
	scales   []float64
	contrast float64
	decode   BitmapDecoder
	logger   *slog.Logger
}

// Option configures the Decoder.
type Option func(*Decoder)

// WithScales overrides the scale attempt order.
func WithScales(scales ...float64) Option {
	return func(d *Decoder) {
		if len(scales) > 0 {
			d.scales = scales
		}
	}
}

// WithContrast overrides the contrast boost.
func WithContrast(percent float64) Option {
	return func(d *Decoder) {
		d.contrast = percent
	}
}

// WithBitmapDecoder replaces the zxing reader.
func WithBitmapDecoder(fn BitmapDecoder) Option {
	return func(d *Decoder) {
		if fn != nil {
			d.decode = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Decoder backed by the zxing QR reader.
func New(opts ...Option) *Decoder {
	d := &Decoder{
		scales:   DefaultScales,
		contrast: DefaultContrast,
		decode:   decodeWithZXing,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode returns the QR payload in data. Every failure is a *DecodeError.
func (d *Decoder) Decode(ctx context.Context, data []byte) (string, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", &DecodeError{Reason: ReasonProcessing, Err: err}
	}

	enhanced := d.enhance(src)
	width := enhanced.Bounds().Dx()

	var failures []error
	for _, scale := range d.scales {
		if err := ctx.Err(); err != nil {
			return "", &DecodeError{Reason: ReasonProcessing, Err: err}
		}

		candidate := image.Image(enhanced)
		if scale != 1.0 {
			w := int(float64(width) * scale)
			if w < 1 {
				continue
			}
			candidate = imaging.Resize(enhanced, w, 0, imaging.Lanczos)
		}

		text, err := d.decode(candidate)
		if err == nil && text != "" {
			return text, nil
		}
		if err == nil {
			err = errors.New("empty payload")
		}
		d.logger.DebugContext(ctx, "qr decode attempt failed", "scale", scale, "error", err)
		failures = append(failures, err)
	}

	return "", &DecodeError{Reason: classify(failures), Err: errors.Join(failures...)}
}

// enhance converts to grayscale, stretches the luminance range to the full
// 0-255 span and applies the contrast boost.
func (d *Decoder) enhance(src image.Image) *image.NRGBA {
	gray := imaging.Grayscale(src)

	lo, hi := uint8(255), uint8(0)
	for i := 0; i < len(gray.Pix); i += 4 {
		v := gray.Pix[i]
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi > lo {
		span := float64(hi - lo)
		gray = imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
			v := uint8((float64(c.R-lo) / span) * 255)
			return color.NRGBA{R: v, G: v, B: v, A: c.A}
		})
	}

	return imaging.AdjustContrast(gray, d.contrast)
}

// classify picks the reason from the structured failures of every attempt.
// A format or checksum error at any scale means a code was located but could
// not be read, which outranks a plain finder-pattern miss.
func classify(failures []error) Reason {
	var (
		notFound  bool
		alignment bool
	)
	for _, err := range failures {
		var nf gozxing.NotFoundException
		var fe gozxing.FormatException
		var ce gozxing.ChecksumException
		switch {
		case errors.As(err, &fe), errors.As(err, &ce):
			alignment = true
		case errors.As(err, &nf):
			notFound = true
		}
	}
	switch {
	case alignment:
		return ReasonAlignment
	case notFound:
		return ReasonNotFound
	default:
		return ReasonProcessing
	}
}

func decodeWithZXing(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := zxingqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}
