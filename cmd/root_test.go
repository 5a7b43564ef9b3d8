package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, os.WriteFile(file, []byte(`
logging: debug
apiAddr: ":5000"
source:
  type: rpc
  url: http://localhost:8545
enrichment:
  concurrency: 2
  retryAfter: 24h
store:
  type: redis
redis:
  address: localhost:6379
prefetch:
  enabled: true
`), 0o600))

	config, err := loadConfig(file, "")
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "debug", config.LoggingLevel)
	assert.Equal(t, ":5000", config.APIAddr)
	assert.Equal(t, "rpc", config.Source.Type)
	assert.Equal(t, 60*time.Second, config.Source.Timeout, "unset fields keep their defaults")
	assert.Equal(t, 2, config.Enrichment.Concurrency)
	assert.Equal(t, 24*time.Hour, config.Enrichment.RetryAfter)
	assert.Equal(t, "https://api.etherscan.io/api", config.Gateway.Etherscan.URL)
	assert.Equal(t, "prefetch", config.Prefetch.Queue)
	assert.Equal(t, "trace-decoder", config.RedisPrefix())
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	return file
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "apiAdr: \":5000\"\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiAdr")
}

func TestLoadConfigEmptyFileKeepsDefaults(t *testing.T) {
	config, err := loadConfig(writeConfig(t, ""), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", config.APIAddr)
	assert.Equal(t, "info", config.LoggingLevel)
}

func TestLoadConfigLoggingOverride(t *testing.T) {
	file := writeConfig(t, "logging: warn\n")

	config, err := loadConfig(file, "trace")
	require.NoError(t, err)
	assert.Equal(t, "trace", config.LoggingLevel)

	config, err = loadConfig(file, "")
	require.NoError(t, err)
	assert.Equal(t, "warn", config.LoggingLevel)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("loud"))
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "config.yaml", configPath(""))
	assert.Equal(t, "/etc/decoder.yaml", configPath("/etc/decoder.yaml"))
}

func TestValidateCommand(t *testing.T) {
	t.Cleanup(func() { configFile, loggingLevel = "", "" })

	var out bytes.Buffer

	validateCmd.SetOut(&out)
	t.Cleanup(func() { validateCmd.SetOut(nil) })

	configFile = writeConfig(t, "apiAddr: \":5000\"\nsource:\n  url: http://localhost:5000\n")
	require.NoError(t, validateCmd.RunE(validateCmd, nil))
	assert.Contains(t, out.String(), "is valid")

	configFile = writeConfig(t, "apiAddr: \"\"\n")
	assert.Error(t, validateCmd.RunE(validateCmd, nil))
}
