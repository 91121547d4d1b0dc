package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareLogsCreatesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "commcellctl.log")

	err := PrepareLogs(logPath, false)
	require.NoError(t, err)

	LogInfo("test entry")

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test entry")
	assert.Contains(t, string(content), "commcellctl")
}

func TestPrepareLogsStdoutOnly(t *testing.T) {
	err := PrepareLogs("", false)
	assert.NoError(t, err)
}

func TestPrepareLogsDebugLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	err := PrepareLogs("", true)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestPrepareLogsBadPath(t *testing.T) {
	err := PrepareLogs(filepath.Join(t.TempDir(), "missing", "dir", "x.log"), false)
	assert.Error(t, err)
}

func TestLogErrorRecordsProgramField(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	LogError("metrics server error: listen tcp :9402: address already in use")

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, log.ErrorLevel, entry.Level)
	assert.Equal(t, "commcellctl", entry.Data["program"])
	assert.Contains(t, entry.Message, "address already in use")
}
