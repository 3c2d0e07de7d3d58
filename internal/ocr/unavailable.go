//go:build !tesseract

package ocr

import (
	"context"

	"go.uber.org/zap"
)

// Unavailable is the engine of builds without tesseract. It recognizes
// nothing, so image uploads parse to empty results.
type Unavailable struct {
	log *zap.Logger
}

func NewDefault(_ string, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Unavailable{log: log}
}

func (u Unavailable) Recognize(context.Context, []byte) (string, error) {
	u.log.Warn("ocr engine not compiled in (build with -tags tesseract); returning empty text")
	return "", nil
}
