package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		{"debug lowercase", "debug", log.DebugLevel},
		{"verbose uppercase", "VERBOSE", log.DebugLevel},
		{"info mixed case", "Info", log.InfoLevel},
		{"warn lowercase", "warn", log.WarnLevel},
		{"warning uppercase", "WARNING", log.WarnLevel},
		{"error lowercase", "error", log.ErrorLevel},
		{"quiet lowercase", "quiet", log.FatalLevel},
		{"silent uppercase", "SILENT", log.FatalLevel},
		{"unknown string", "unknown", log.InfoLevel},
		{"empty string", "", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log.SetLevel(log.PanicLevel)
			SetLogLevel(tt.input)
			assert.Equal(t, tt.expected, log.GetLevel())
		})
	}
}

func TestComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	t.Cleanup(func() {
		log.SetFormatter(&log.TextFormatter{})
		log.SetOutput(os.Stderr)
	})

	Component("truncator").Warn("no room")
	assert.Contains(t, buf.String(), `"component":"truncator"`)
	assert.Contains(t, buf.String(), `"msg":"no room"`)
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "turnkit.log")
	closer, err := Setup(Options{Path: path, Level: "info"})
	require.NoError(t, err)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	UserLog("hello %s", "file")
	require.NoError(t, closer.Close())
	assert.FileExists(t, path)
}
