package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentuity/design-bridge/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvBuffer(t *testing.T) {
	t.Setenv("DB_TEST_HOME", "/home/me")
	tests := []struct {
		name     string
		content  string
		expected []EnvLine
	}{
		{"empty", "", []EnvLine{}},
		{
			name: "quoting and comments",
			content: `
# comment
KEY1=value1
KEY2="value 2"
export KEY3='value3'
`,
			expected: []EnvLine{
				{Key: "KEY1", Val: "value1"},
				{Key: "KEY2", Val: "value 2"},
				{Key: "KEY3", Val: "value3"},
			},
		},
		{
			name:    "interpolation",
			content: "HOST=localhost\nURL=ws://${HOST}:${PORT:-9001}\nDIR=${DB_TEST_HOME}/x",
			expected: []EnvLine{
				{Key: "HOST", Val: "localhost"},
				{Key: "URL", Val: "ws://localhost:9001"},
				{Key: "DIR", Val: "/home/me/x"},
			},
		},
		{
			name:     "unterminated reference kept",
			content:  "A=${B",
			expected: []EnvLine{{Key: "A", Val: "${B"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvBuffer([]byte(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseEnvBufferRejectsGarbage(t *testing.T) {
	_, err := ParseEnvBuffer([]byte("OK=1\nnot a pair\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseEnvFileMissing(t *testing.T) {
	lines, err := ParseEnvFile(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLoadEnvFileExistingWins(t *testing.T) {
	fn := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(fn, []byte("DB_TEST_KEEP=file\nDB_TEST_NEW=file\n"), 0o600))
	t.Setenv("DB_TEST_KEEP", "process")
	t.Setenv("DB_TEST_NEW", "")
	os.Unsetenv("DB_TEST_NEW")

	applied, err := LoadEnvFile(fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_TEST_NEW"}, applied)
	assert.Equal(t, "process", os.Getenv("DB_TEST_KEEP"))
	assert.Equal(t, "file", os.Getenv("DB_TEST_NEW"))
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("name", "", "")
	t.Setenv("DB_TEST_NAME", "from-env")
	assert.Equal(t, "from-env", FlagOrEnv(cmd, "name", "DB_TEST_NAME", "def"))
	require.NoError(t, cmd.Flags().Set("name", "from-flag"))
	assert.Equal(t, "from-flag", FlagOrEnv(cmd, "name", "DB_TEST_NAME", "def"))
	assert.Equal(t, "def", FlagOrEnv(cmd, "missing", "DB_TEST_UNSET", "def"))
	assert.Equal(t, "def", FlagOrEnv(nil, "name", "DB_TEST_UNSET", "def"))
}

func TestLogLevel(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", "", "")
	t.Setenv(logger.LevelEnv, "")
	assert.Equal(t, logger.LevelWarn, LogLevel(cmd, "warn"))
	t.Setenv(logger.LevelEnv, "debug")
	assert.Equal(t, logger.LevelDebug, LogLevel(cmd, "warn"))
	require.NoError(t, cmd.Flags().Set("log-level", "error"))
	assert.Equal(t, logger.LevelError, LogLevel(cmd, "warn"))
}

func TestNewLoggerFormat(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("log-format", "", "")
	cmd.Flags().String("log-level", "", "")
	t.Setenv(Prefix+"LOG_FORMAT", "")
	t.Setenv(logger.LevelEnv, "")
	for _, format := range []string{"console", "json"} {
		log := NewLogger(cmd, "warn", format)
		assert.False(t, log.IsLevelEnabled(logger.LevelInfo), format)
		assert.True(t, log.IsLevelEnabled(logger.LevelError), format)
	}
}
