package certlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsInvalidLevelToInfo(t *testing.T) {
	l, err := New(Config{Level: "not-a-level"}, "1.0.0")
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestNewJSONFormatterProducesServiceAndVersionFields(t *testing.T) {
	l, err := New(Config{Level: "info", Format: "json"}, "9.9.9")
	require.NoError(t, err)
	defer l.Close()

	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.WithComponent("test").Info("hello")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Equal(t, "certstream-server-go", parsed["service"])
	require.Equal(t, "9.9.9", parsed["version"])
	require.Equal(t, "test", parsed["component"])
	require.Equal(t, "hello", parsed["message"])
}

func TestWithComponentAttachesComponentField(t *testing.T) {
	l, err := New(Config{}, "1.0.0")
	require.NoError(t, err)
	defer l.Close()

	entry := l.WithComponent("registry")
	require.Equal(t, "registry", entry.Data["component"])
}

func TestNormalizeFillsDefaults(t *testing.T) {
	got := normalize(Config{})
	require.Equal(t, "info", got.Level)
	require.Equal(t, "json", got.Format)
	require.Equal(t, "console", got.Output)
}

func TestCloseWithoutFileSinkIsNoop(t *testing.T) {
	l, err := New(Config{Output: "console"}, "1.0.0")
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
