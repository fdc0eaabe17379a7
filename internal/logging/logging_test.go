package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	var l *Logger
	var err error

	l, err = New(Options{Stderr: &buf})
	if err != nil {
		t.Fatalf("New() should have succeeded, got: %v", err)
	}

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info lines should be dropped by default: %s", buf.String())
	}
	// not a terminal: JSON lines
	if !strings.Contains(buf.String(), `"level":"warn"`) ||
		!strings.Contains(buf.String(), `"message":"shown"`) {
		t.Errorf("expected a JSON warn line, got: %s", buf.String())
	}

	buf.Reset()
	l, err = New(Options{Stderr: &buf, Verbose: true})
	if err != nil {
		t.Fatalf("New() should have succeeded, got: %v", err)
	}

	l.Debug().Msg("details")
	if !strings.Contains(buf.String(), "details") {
		t.Errorf("debug lines should be shown when verbose: %s", buf.String())
	}

	return
}

func TestFileMirror(t *testing.T) {
	var buf bytes.Buffer
	var path string
	var l *Logger
	var content []byte
	var err error

	path = filepath.Join(t.TempDir(), "modbus.log")

	l, err = New(Options{Stderr: &buf, File: path})
	if err != nil {
		t.Fatalf("New() should have succeeded, got: %v", err)
	}

	l.Error().Str("op", "read").Msg("failed")

	err = l.Close()
	if err != nil {
		t.Errorf("Close() should have succeeded, got: %v", err)
	}

	content, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), `"op":"read"`) ||
		!strings.Contains(buf.String(), `"op":"read"`) {
		t.Errorf("expected the line on both outputs, got '%s' and '%s'", content, buf.String())
	}

	_, err = New(Options{Stderr: &buf, File: filepath.Join(path, "nope.log")})
	if err == nil {
		t.Errorf("New() should have failed")
	}

	return
}
