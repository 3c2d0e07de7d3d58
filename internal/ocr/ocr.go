// Package ocr turns scanned document images into text.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// Engine recognizes text in an encoded image. An empty string with a nil
// error means nothing was recognized.
type Engine interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

// DefaultThreshold is the luminance cut used to binarize scans.
const DefaultThreshold = 180

// Preprocess converts an encoded image to a grayscale, binarized PNG.
func Preprocess(data []byte, threshold uint8) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	out := Binarize(imaging.Grayscale(src), threshold)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Binarize maps every pixel below threshold to black and the rest to white.
func Binarize(img image.Image, threshold uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		// gray input: R == G == B
		y := uint8((299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B)) / 1000)
		v := uint8(255)
		if y < threshold {
			v = 0
		}
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// Languages splits a tesseract language spec such as "spa+eng".
func Languages(spec string) []string {
	var out []string
	for _, l := range strings.Split(spec, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
