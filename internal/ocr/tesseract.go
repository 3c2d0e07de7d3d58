//go:build tesseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// Tesseract runs the local tesseract library on preprocessed images.
type Tesseract struct {
	languages []string
	threshold uint8
	log       *zap.Logger
}

// NewDefault returns the tesseract engine when built with -tags tesseract.
func NewDefault(languages string, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tesseract{languages: Languages(languages), threshold: DefaultThreshold, log: log}
}

func (t *Tesseract) Recognize(ctx context.Context, img []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prepared, err := Preprocess(img, t.threshold)
	if err != nil {
		t.log.Warn("image preprocessing failed; using original", zap.Error(err))
		prepared = img
	}
	c := gosseract.NewClient()
	defer c.Close()
	if len(t.languages) > 0 {
		if err := c.SetLanguage(t.languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(prepared); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
