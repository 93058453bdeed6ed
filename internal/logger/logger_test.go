package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	apperrors "tableware-inspector/internal/errors"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"", zerolog.InfoLevel, false},
		{" INFO ", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"trace", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZerologAdapter_WritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.DebugLevel, "inspectd")

	log.Error("ClassificationCache", errors.New("disk full"), map[string]interface{}{"path": "lut.bin"})

	entry := decodeEntry(t, buf.Bytes())
	if entry["component"] != "ClassificationCache" || entry["path"] != "lut.bin" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["service"] != "inspectd" {
		t.Errorf("service field = %v", entry["service"])
	}
	if entry["error"] != "disk full" || entry["message"] != "operation failed" {
		t.Errorf("error entry = %v", entry)
	}
}

func TestZerologAdapter_ErrorUsesAppErrorMessage(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.InfoLevel, "")

	err := fmt.Errorf("startup: %w", apperrors.NewCacheError("classification cache is not ready", nil))
	log.Error("Inspector", err, nil)

	entry := decodeEntry(t, buf.Bytes())
	if entry["message"] != "classification cache is not ready" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["error_type"] != "cache" {
		t.Errorf("error_type = %v", entry["error_type"])
	}
	if _, ok := entry["service"]; ok {
		t.Error("empty service name should not be written")
	}
}

func TestZerologAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.InfoLevel, "inspectd").With(map[string]interface{}{"version": "1.2.0"})

	log.Info("Server", "starting", map[string]interface{}{"port": "8080"})

	entry := decodeEntry(t, buf.Bytes())
	if entry["version"] != "1.2.0" || entry["port"] != "8080" || entry["service"] != "inspectd" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func decodeEntry(t *testing.T, line []byte) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, line)
	}
	return entry
}

func TestZerologAdapter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.WarnLevel, "")

	log.Debug("Pipeline", "hidden", nil)
	log.Info("Pipeline", "hidden", nil)
	if buf.Len() != 0 {
		t.Errorf("below-level entries written: %q", buf.String())
	}

	log.Warning("Pipeline", "shown", nil)
	if buf.Len() == 0 {
		t.Error("warning entry missing")
	}
}
