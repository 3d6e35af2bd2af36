package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestLogger_LevelsGoToTheirOwnFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir)
	require.NoError(t, err)

	l.Info("tick %d done", 1)
	l.Warning("queue at %d%%", 90)
	l.Error("provider failed: %v", "boom")

	info := readLog(t, dir, InfoFile)
	warning := readLog(t, dir, WarningFile)
	errLog := readLog(t, dir, ErrorFile)

	assert.Contains(t, info, "tick 1 done")
	assert.NotContains(t, info, "provider failed")
	assert.Contains(t, warning, "queue at 90%")
	assert.NotContains(t, warning, "tick 1 done")
	assert.Contains(t, errLog, "provider failed: boom")
}

func TestLogger_CleanLogs(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir)
	require.NoError(t, err)

	l.Error("first failure")
	require.Contains(t, readLog(t, dir, ErrorFile), "first failure")

	require.NoError(t, l.CleanLogs(ErrorFile))
	assert.NotContains(t, readLog(t, dir, ErrorFile), "first failure")

	l.Error("second failure")
	assert.Contains(t, readLog(t, dir, ErrorFile), "second failure")

	assert.Error(t, l.CleanLogs("other.log"))
}

func TestNopAndZapLoggers(t *testing.T) {
	NewNopLogger().Info("ignored %s", "value")

	core, logs := observer.New(zapcore.InfoLevel)
	l := FromZap(zap.New(core))
	l.Warning("disk at %d%%", 91)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "disk at 91%", logs.All()[0].Message)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Error(t, l.CleanLogs(InfoFile))
}
