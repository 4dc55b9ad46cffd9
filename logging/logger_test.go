package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grovetools/tabsd/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Setenv("TABSD_HOME", t.TempDir())
	Reset()
	defer Reset()

	logger := NewLogger("test-component")
	require.NotNil(t, logger)
	assert.Equal(t, "test-component", logger.Data["component"])

	// Same component returns the cached entry
	assert.Same(t, logger, NewLogger("test-component"))
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("TABSD_HOME", t.TempDir())
	t.Setenv("TABSD_LOG_LEVEL", "debug")
	Reset()
	defer Reset()

	assert.Equal(t, logrus.DebugLevel, NewLogger("env-level").Logger.GetLevel())
}

func TestConfigureUpdatesExistingLoggers(t *testing.T) {
	t.Setenv("TABSD_HOME", t.TempDir())
	Reset()
	defer Reset()

	logger := NewLogger("configured")
	assert.Equal(t, logrus.InfoLevel, logger.Logger.GetLevel())

	cfg, err := config.LoadFromBytes([]byte("logging:\n  level: warn\n  report_caller: true\n"), config.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, Configure(cfg))

	assert.Equal(t, logrus.WarnLevel, logger.Logger.GetLevel())
	assert.True(t, logger.Logger.ReportCaller)
}

func TestFileSink(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TABSD_HOME", home)
	Reset()
	defer Reset()

	cfg, err := config.LoadFromBytes([]byte("logging:\n  format:\n    structured_to_stderr: never\n"), config.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, Configure(cfg))

	NewLogger("filesink").Info("written to disk")

	data, err := os.ReadFile(LogFile("filesink"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to disk")
	assert.True(t, strings.HasPrefix(LogFile("filesink"), filepath.Join(home, "state")))
}

func TestGlobalOutput(t *testing.T) {
	t.Setenv("TABSD_HOME", t.TempDir())
	Reset()
	defer Reset()

	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	defer SetGlobalOutput(os.Stderr)

	cfg, err := config.LoadFromBytes([]byte("logging:\n  file:\n    disabled: true\n  format:\n    structured_to_stderr: always\n"), config.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, Configure(cfg))

	NewLogger("captured").WithField("uid", 1000).Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "uid=1000")
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		want    []string
		notWant []string
	}{
		{
			name:   "default",
			config: FormatConfig{},
			want:   []string{"[WARN]", "captured", "session=abc", "uid=7"},
		},
		{
			name:    "no timestamp no component",
			config:  FormatConfig{DisableTimestamp: true, DisableComponent: true},
			want:    []string{"[WARN] message"},
			notWant: []string{"2024-", "tabsd-test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &logrus.Entry{
				Logger:  logrus.New(),
				Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
				Level:   logrus.WarnLevel,
				Message: "message captured",
				Data:    logrus.Fields{"component": "tabsd-test", "uid": 7, "session": "abc"},
			}
			out, err := (&TextFormatter{Config: tt.config}).Format(entry)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, string(out), w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, string(out), nw)
			}
		})
	}
}

func TestTextFormatterSortsFields(t *testing.T) {
	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Level:   logrus.InfoLevel,
		Message: "m",
		Data:    logrus.Fields{"b": 2, "a": 1},
	}
	out, err := (&TextFormatter{Config: FormatConfig{DisableTimestamp: true}}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[INFO] m a=1 b=2\n", string(out))
}

func TestDailyWriterRollsOver(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	w := newDailyWriter(dir, "tabsd")
	w.now = func() time.Time { return day }
	defer w.Close()

	_, err := w.Write([]byte("first\n"))
	require.NoError(t, err)

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "tabsd-2024-05-01.log"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, "tabsd-2024-05-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(first))
	assert.Equal(t, "second\n", string(second))
}

func TestPrettyLoggerPadsKeys(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrettyLogger(&buf, 10)
	p.Field("Sessions", 2)
	p.Path("Socket", "/run/tabsd.sock")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Sessions:")
	assert.Contains(t, lines[0], "2")
	assert.Contains(t, lines[1], "/run/tabsd.sock")
}
