package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"docharvest/pkg/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(buf *bytes.Buffer) *zerologLogger {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zlog := zerolog.New(buf).With().Timestamp().Logger()
	return &zerologLogger{logger: &zlog, fields: make(map[string]interface{})}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"empty level defaults to info", &config.LoggingConfig{}, false},
		{"invalid level", &config.LoggingConfig{Level: "chatty"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var console bytes.Buffer
			l, err := NewWithWriter(tt.cfg, &console)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"off", zerolog.Disabled, false},
		{"trace-all", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)

	l.WithField("repo", "octo/docs").
		WithFields(map[string]interface{}{"files": 4, "ok": true}).
		WithError(errors.New("boom")).
		Info("chained fields")

	out := buf.String()
	assert.Contains(t, out, "chained fields")
	assert.Contains(t, out, `"repo":"octo/docs"`)
	assert.Contains(t, out, `"files":4`)
	assert.Contains(t, out, `"ok":true`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := bufferLogger(&buf)
	_ = parent.WithField("child", "only")

	parent.Info("parent line")
	assert.NotContains(t, buf.String(), "child")
}

func TestWithNilErrorReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)
	assert.Same(t, l, l.WithError(nil))
}

func TestStructuredFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)

	l.InfoWithFields("typed", map[string]interface{}{
		"duration": 1500 * time.Millisecond,
		"names":    []string{"a", "b"},
		"custom":   struct{ Name string }{Name: "x"},
	})

	out := buf.String()
	assert.Contains(t, out, `"duration":"1.5s"`)
	assert.Contains(t, out, `"names":["a","b"]`)
	assert.Contains(t, out, `"Name":"x"`)
}

func TestGlobalLogger(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	tl := NewTestLogger()
	SetLogger(tl)
	OrDefault(nil).Info("from global")
	assert.True(t, tl.HasMessage("INFO", "from global"))

	other := NewNopLogger()
	assert.Same(t, other, OrDefault(other))
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogRateLimit(tl, "repos/a/b", 3, time.Minute)
	LogDownload(tl, "docs/a.md", 10, errors.New("timeout"))
	LogRequest(tl, "GET", "https://api.github.com/x", 503, time.Second)
	LogComponentStart(tl, "crawler", map[string]interface{}{"delay": "1s"})

	msgs := tl.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "repos/a/b", msgs[0].Fields["endpoint"])
	assert.Equal(t, "timeout", msgs[1].Fields["error"])
	assert.Equal(t, 3, tl.CountLevel("WARN"))
	assert.Equal(t, "crawler", msgs[3].Fields["component"])
}

func TestTestLoggerSharesStoreAcrossChildren(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("component", "queue")
	child.Warn("slow")

	require.Len(t, tl.GetMessages(), 1)
	assert.Equal(t, "queue", tl.GetMessages()[0].Fields["component"])
	assert.False(t, tl.HasMessage("INFO", "slow"))

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}
