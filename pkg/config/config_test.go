package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{Iface: "en0"}
	c.ApplyDefaults()
	return c
}

func TestApplyDefaultsFillsZeroFields(t *testing.T) {
	c := &Config{}
	c.ApplyDefaults()
	require.Equal(t, DefaultHTTPListen, c.HTTPListen)
	require.Equal(t, DefaultSOCKS5Listen, c.SOCKS5Listen)
	require.Equal(t, DefaultMaxConns, c.MaxConns)
	require.Equal(t, DefaultReadTimeoutMS, c.ReadTimeoutMS)
	require.Equal(t, DefaultSessionMS, c.SessionMS)
}

func TestApplyDefaultsLeavesExplicitValues(t *testing.T) {
	c := &Config{HTTPListen: "0.0.0.0:9999", MaxConns: 5}
	c.ApplyDefaults()
	require.Equal(t, "0.0.0.0:9999", c.HTTPListen)
	require.Equal(t, 5, c.MaxConns)
}

func TestValidateRequiresInterface(t *testing.T) {
	c := validConfig()
	c.Iface = ""
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnparseableListen(t *testing.T) {
	c := validConfig()
	c.HTTPListen = "not-a-host-port"
	require.Error(t, c.Validate())
}

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	c := validConfig()
	c.HTTPListen = "127.0.0.1:99999"
	require.Error(t, c.Validate())
}

func TestValidateRequiresPairedSocks5Credentials(t *testing.T) {
	c := validConfig()
	c.SOCKS5User = "alice"
	c.SOCKS5Pass = ""
	require.Error(t, c.Validate())

	c.SOCKS5Pass = "hunter2"
	require.NoError(t, c.Validate())
}

func TestValidateRejectsNonPositiveNumericFields(t *testing.T) {
	c := validConfig()
	c.MaxConns = 0
	require.Error(t, c.Validate())

	c = validConfig()
	c.ReadTimeoutMS = -1
	require.Error(t, c.Validate())

	c = validConfig()
	c.SessionMS = 0
	require.Error(t, c.Validate())
}

func TestValidateChecksSocks5ListenOnlyWhenEnabled(t *testing.T) {
	c := validConfig()
	c.SOCKS5Enabled = false
	c.SOCKS5Listen = "garbage"
	require.NoError(t, c.Validate())

	c.SOCKS5Enabled = true
	require.Error(t, c.Validate())
}

func TestHasSOCKS5Auth(t *testing.T) {
	c := validConfig()
	require.False(t, c.HasSOCKS5Auth())
	c.SOCKS5User = "alice"
	c.SOCKS5Pass = "hunter2"
	require.True(t, c.HasSOCKS5Auth())
}

func TestUnmarshalJSONAcceptsLegacyListenAddrAlias(t *testing.T) {
	var c Config
	raw := []byte(`{"iface":"en0","listen_addr":"127.0.0.1:8080"}`)
	require.NoError(t, json.Unmarshal(raw, &c))
	require.Equal(t, "127.0.0.1:8080", c.HTTPListen)
}

func TestUnmarshalJSONPrefersCurrentListenFieldOverLegacy(t *testing.T) {
	var c Config
	raw := []byte(`{"iface":"en0","listen":"127.0.0.1:9090","listen_addr":"127.0.0.1:8080"}`)
	require.NoError(t, json.Unmarshal(raw, &c))
	require.Equal(t, "127.0.0.1:9090", c.HTTPListen)
}

func TestLoadFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	contents := `{"iface":"en0","listen":"127.0.0.1:7890","max_conns":500}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "en0", c.Iface)
	require.Equal(t, "127.0.0.1:7890", c.HTTPListen)
	require.Equal(t, 500, c.MaxConns)
}

func TestLoadFileReturnsErrorForMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
