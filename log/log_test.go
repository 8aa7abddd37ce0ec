package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewLogger(buf)
	l.SetLevelByString("warn")

	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")

	l.SetLevel(LOG_LEVEL_DEBUG)
	l.Debugf("now %s", "visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestNamedSharesLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewLogger(buf)
	l.SetLevel(LOG_LEVEL_ERROR)
	child := l.Named("cache")

	child.Warn("dropped")
	assert.Empty(t, buf.String())

	l.SetLevel(LOG_LEVEL_INFO)
	child.Info("kept")
	assert.Contains(t, buf.String(), "cache")
	assert.Contains(t, buf.String(), "kept")
}

func TestStringToLogLevel(t *testing.T) {
	assert.Equal(t, LOG_LEVEL_WARN, StringToLogLevel("WARNING"))
	assert.Equal(t, LOG_LEVEL_FATAL, StringToLogLevel("fatal"))
	assert.Equal(t, LOG_LEVEL_DEBUG, StringToLogLevel("bogus"))
}

func TestInitFileLogger(t *testing.T) {
	saved := _log
	t.Cleanup(func() { _log = saved })
	path := filepath.Join(t.TempDir(), "kcv.log")

	require.NoError(t, InitFileLogger("warning", path))
	assert.Equal(t, LOG_LEVEL_WARN, GetLogLevel())
	Infof("hidden %d", 1)
	Warnf("written %d", 2)
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written 2")
	assert.NotContains(t, string(data), "hidden 1")
}
