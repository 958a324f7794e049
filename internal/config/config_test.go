package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerAddr = "NXV7ZhHiyM1aHXwpVsRZC6BwNFP2jghXAq"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_RequiresOwner(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Kernel.Owner = ownerAddr
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "spendsave.yaml", `
kernel:
  owner: `+ownerAddr+`
  treasury_fee_bps: 1000
extraction:
  round_up_unit: 1000
batch:
  max_size: 10
http:
  addr: ":9000"
  read_timeout: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ownerAddr, cfg.Kernel.Owner)
	assert.Equal(t, uint16(1000), cfg.Kernel.TreasuryFeeBps)
	assert.Equal(t, uint64(1000), cfg.Extraction.RoundUpUnit)
	assert.Equal(t, 10, cfg.Batch.MaxSize)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ReadTimeout)
	// untouched fields keep defaults
	assert.Equal(t, 1000, cfg.HTTP.EventBuffer)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "spendsave.yaml", "kernel:\n  owner: "+ownerAddr+"\n")
	t.Setenv("SPENDSAVE_BATCH_MAX_SIZE", "7")
	t.Setenv("SPENDSAVE_TREASURY_FEE_BPS", "250")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Batch.MaxSize)
	assert.Equal(t, uint16(250), cfg.Kernel.TreasuryFeeBps)
}

func TestLoad_RejectsFeeAboveFullScale(t *testing.T) {
	path := writeFile(t, "spendsave.yaml", "kernel:\n  owner: "+ownerAddr+"\n  treasury_fee_bps: 10001\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "SPENDSAVE_OWNER="+ownerAddr+"\n")
	t.Cleanup(func() { os.Unsetenv("SPENDSAVE_OWNER") })

	require.NoError(t, LoadEnvFile(path))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, cfg.Kernel.Owner)

	assert.NoError(t, LoadEnvFile(""))
	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoad_DCARouter(t *testing.T) {
	path := writeFile(t, "spendsave.yaml", `
kernel:
  owner: `+ownerAddr+`
dca:
  enabled: true
  schedule: "@every 10m"
  router_url: http://venue.local:8080
  router_timeout: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.DCA.Enabled)
	assert.Equal(t, "http://venue.local:8080", cfg.DCA.RouterURL)
	assert.Equal(t, 2*time.Second, cfg.DCA.RouterTimeout)
	assert.Equal(t, float64(50), cfg.HTTP.RateLimit)

	bad := writeFile(t, "bad.yaml", "kernel:\n  owner: "+ownerAddr+"\ndca:\n  router_url: not a url\n")
	_, err = Load(bad)
	assert.Error(t, err)
}
