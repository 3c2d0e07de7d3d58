package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"granix/internal/ocr"
)

var (
	ErrEmptyUpload      = errors.New("empty upload")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// Upload is one received document.
type Upload struct {
	Filename    string
	ContentType string // as declared by the client; sniffing wins
	Data        []byte
}

type Kind int

const (
	KindUnsupported Kind = iota
	KindText
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return "unsupported"
	}
}

// DetectKind sniffs the upload body and returns its kind and MIME type.
func DetectKind(data []byte) (Kind, string) {
	m := mimetype.Detect(data)
	for p := m; p != nil; p = p.Parent() {
		switch {
		case strings.HasPrefix(p.String(), "image/"):
			return KindImage, m.String()
		case p.Is("text/plain"):
			return KindText, m.String()
		}
	}
	return KindUnsupported, m.String()
}

// Extractor turns an upload into recognized text.
type Extractor struct {
	engine ocr.Engine
	log    *zap.Logger
}

func NewExtractor(engine ocr.Engine, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{engine: engine, log: log}
}

// Extract returns plain text bodies unchanged and runs images through OCR.
// PDFs and other types are ErrUnsupportedMedia. A failing OCR engine yields
// empty text, which parses to nothing.
func (x *Extractor) Extract(ctx context.Context, u Upload) (string, error) {
	if len(u.Data) == 0 {
		return "", ErrEmptyUpload
	}
	kind, mime := DetectKind(u.Data)
	switch kind {
	case KindText:
		if !utf8.Valid(u.Data) {
			return "", fmt.Errorf("%w: text is not utf-8", ErrUnsupportedMedia)
		}
		return string(u.Data), nil
	case KindImage:
		if x.engine == nil {
			return "", fmt.Errorf("%w: no ocr engine for %s", ErrUnsupportedMedia, mime)
		}
		text, err := x.engine.Recognize(ctx, u.Data)
		if err != nil {
			x.log.Warn("ocr failed", zap.String("filename", u.Filename), zap.String("mime", mime), zap.Error(err))
			return "", nil
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mime)
	}
}
