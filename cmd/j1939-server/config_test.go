package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *appConfig {
	return &appConfig{
		canIf: "can0", packetSize: 1024, queuePolicy: "drop-oldest", fetchInterval: 50 * time.Millisecond,
		listenAddr: ":20100", logFormat: "text", logLevel: "info", hubBuffer: 8, hubPolicy: "drop",
		handshakeTO: time.Second, clientReadTO: time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().validate())
	c := validConfig()
	c.fetchInterval = 0
	c.deliverImmediate = true
	assert.NoError(t, c.validate(), "immediate delivery without ticker")
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badQueuePolicy", func(c *appConfig) { c.queuePolicy = "drop" }},
		{"emptyIf", func(c *appConfig) { c.canIf = "" }},
		{"badPacketSize", func(c *appConfig) { c.packetSize = 0 }},
		{"badRcvBuf", func(c *appConfig) { c.rcvBuf = -1 }},
		{"badQueueSize", func(c *appConfig) { c.queueSize = -1 }},
		{"noFetch", func(c *appConfig) { c.fetchInterval = 0 }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badMetricsInterval", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mod(c)
			assert.Error(t, c.validate())
		})
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, showVersion, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.False(t, showVersion)
	assert.Equal(t, "can0", cfg.canIf)
	assert.Equal(t, 1024, cfg.packetSize)
	assert.Equal(t, 50*time.Millisecond, cfg.fetchInterval)
	assert.Equal(t, "drop-oldest", cfg.queuePolicy)
}

func TestParseFlagsVersion(t *testing.T) {
	_, showVersion, err := parseFlags([]string{"-version"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, showVersion)
}

func TestParseFlagsInvalid(t *testing.T) {
	_, _, err := parseFlags([]string{"-queue-policy", "random"}, io.Discard)
	assert.ErrorContains(t, err, "queue-policy")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "j1939-server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigFilePrecedence(t *testing.T) {
	path := writeConfig(t, `
can-if: vcan1
packet-size: 2048
queue-size: 128
queue-policy: drop-newest
fetch-interval: 20ms
hub-policy: kick
mdns-enable: true
`)
	t.Setenv("J1939_SERVER_QUEUE_SIZE", "256")
	cfg, _, err := parseFlags([]string{"-config", path, "-packet-size", "4096"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "vcan1", cfg.canIf, "file over default")
	assert.Equal(t, 4096, cfg.packetSize, "flag over file")
	assert.Equal(t, 256, cfg.queueSize, "env over file")
	assert.Equal(t, "drop-newest", cfg.queuePolicy)
	assert.Equal(t, 20*time.Millisecond, cfg.fetchInterval)
	assert.Equal(t, "kick", cfg.hubPolicy)
	assert.True(t, cfg.mdnsEnable)
}

func TestConfigFileFromEnv(t *testing.T) {
	path := writeConfig(t, "can-if: vcan9\n")
	t.Setenv("J1939_SERVER_CONFIG", path)
	cfg, _, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "vcan9", cfg.canIf)
}

func TestConfigFileUnknownKey(t *testing.T) {
	path := writeConfig(t, "can-if: vcan1\nbaud: 115200\n")
	_, _, err := parseFlags([]string{"-config", path}, io.Discard)
	assert.Error(t, err)
}

func TestConfigFileBadDuration(t *testing.T) {
	path := writeConfig(t, "fetch-interval: soon\n")
	_, _, err := parseFlags([]string{"-config", path}, io.Discard)
	assert.ErrorContains(t, err, "fetch-interval")
}

func TestConfigFileEmpty(t *testing.T) {
	path := writeConfig(t, "")
	cfg, _, err := parseFlags([]string{"-config", path}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "can0", cfg.canIf)
}

func TestConfigFileMissing(t *testing.T) {
	_, _, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml")}, io.Discard)
	assert.Error(t, err)
}
