package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, err := New("debug", "console")
	if err != nil {
		t.Fatal(err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug should be enabled")
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("expected format error")
	}
}
