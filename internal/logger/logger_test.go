package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, lvl, fmtName string) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	InitWithWriter(buf, lvl, fmtName)
	t.Cleanup(func() {
		InitWithWriter(os.Stdout, "INFO", "text")
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	t.Run("Info level hides debug", func(t *testing.T) {
		buf := captureOutput(t, "INFO", "text")

		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})

	t.Run("Level can be raised at runtime", func(t *testing.T) {
		buf := captureOutput(t, "DEBUG", "text")

		Debug("first")
		SetLevel("ERROR")
		Warn("second")
		Error("third")

		out := buf.String()
		assert.Contains(t, out, "first")
		assert.NotContains(t, out, "second")
		assert.Contains(t, out, "third")
	})

	t.Run("Invalid level is ignored", func(t *testing.T) {
		buf := captureOutput(t, "WARN", "text")

		SetLevel("LOUD")
		Info("hidden")
		Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t, "INFO", "json")

	Info("preload finished", "component", "preload", "key", "home")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "preload finished", entry["msg"])
	assert.Equal(t, "home", entry["key"])
	assert.Equal(t, "preload", entry["component"])
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media-stage.log")
	t.Cleanup(func() {
		InitWithWriter(os.Stdout, "INFO", "text")
	})

	require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
	Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"debug", true},
		{"INFO", true},
		{"Warn", true},
		{"error", true},
		{"verbose", false},
	}

	for _, c := range cases {
		_, ok := ParseLevel(c.name)
		assert.Equal(t, c.ok, ok, "ParseLevel(%q)", c.name)
	}
}
