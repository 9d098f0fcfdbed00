package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 53, cfg.DNS.Port)
	assert.Equal(t, []string{"8.8.8.8:53", "8.8.4.4:53"}, cfg.DNS.Upstreams)
	assert.Equal(t, 3841, cfg.DNS.BlockRcode)
	assert.Equal(t, 2*time.Second, cfg.DNS.UpstreamTimeoutDuration())
	assert.Equal(t, 80, cfg.HTTP.InstallPort)
	assert.Equal(t, 443, cfg.HTTP.SecurePort)
	assert.Equal(t, 60*time.Second, cfg.ACME.PropagationIntervalDuration())
	assert.Equal(t, 6*time.Hour, cfg.ACME.RenewIntervalDuration())
	assert.Equal(t, 30*24*time.Hour, cfg.ACME.RenewBefore())
	assert.Equal(t, PropagationDig, cfg.ACME.PropagationCheck)
	assert.Equal(t, 60*time.Second, cfg.IPMonitor.IntervalDuration())
	assert.Equal(t, "https://api.cloudflare.com/client/v4", cfg.Cloudflare.APIURL)
	assert.Equal(t, defaultStaging, *cfg.ACME.Staging)
}

func TestACMEDirectory(t *testing.T) {
	staging, production := true, false

	assert.Equal(t, LetsEncryptStaging, (&ACMEConfig{Staging: &staging}).Directory())
	assert.Equal(t, LetsEncryptProduction, (&ACMEConfig{Staging: &production}).Directory())
	assert.Equal(t, "https://acme.local/dir", (&ACMEConfig{DirectoryURL: "https://acme.local/dir", Staging: &staging}).Directory())
}

func TestLoadHCL(t *testing.T) {
	t.Setenv("HMDL_TEST_UPSTREAM", "9.9.9.9:53")

	cfg, err := LoadHCL([]byte(`
state_dir = "/srv/hmdl"
log_level = "debug"

dns {
  port             = 5353
  upstreams        = [env.HMDL_TEST_UPSTREAM]
  upstream_timeout = "500ms"
}

acme {
  staging              = false
  propagation_check    = "resolver"
  propagation_interval = "10s"
  renew_before_days    = 20
}

ip_monitor {
  interval         = "5s"
  include_loopback = true
}
`), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "/srv/hmdl", cfg.StateDir)
	assert.Equal(t, filepath.Join("/srv/hmdl", "hmdl.db"), cfg.DatabasePath())
	assert.Equal(t, 5353, cfg.DNS.Port)
	assert.Equal(t, []string{"9.9.9.9:53"}, cfg.DNS.Upstreams)
	assert.Equal(t, 500*time.Millisecond, cfg.DNS.UpstreamTimeoutDuration())
	assert.Equal(t, LetsEncryptProduction, cfg.ACME.Directory())
	assert.Equal(t, PropagationResolver, cfg.ACME.PropagationCheck)
	assert.Equal(t, 10*time.Second, cfg.ACME.PropagationIntervalDuration())
	assert.Equal(t, 20*24*time.Hour, cfg.ACME.RenewBefore())
	assert.True(t, cfg.IPMonitor.IncludeLoopback)
	assert.Equal(t, 5*time.Second, cfg.IPMonitor.IntervalDuration())

	// Blocks left out keep their defaults.
	assert.Equal(t, 443, cfg.HTTP.SecurePort)
}

func TestLoadHCL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		hcl  string
	}{
		{"syntax", `dns {`},
		{"bad duration", `ip_monitor { interval = "soon" }`},
		{"negative duration", `acme { renew_interval = "-1h" }`},
		{"bad port", `dns { port = 70000 }`},
		{"same ports", "http {\n install_port = 8080\n secure_port = 8080\n}"},
		{"bad upstream", `dns { upstreams = ["8.8.8.8"] }`},
		{"bad checker", `acme { propagation_check = "ping" }`},
		{"unknown attribute", `colour = "blue"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadHCL([]byte(tt.hcl), "bad.hcl")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.hcl"))
		require.NoError(t, err)
		assert.Equal(t, 53, cfg.DNS.Port)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hmdl.hcl")
		require.NoError(t, os.WriteFile(path, []byte("http {\n install_port = 8080\n}\n"), 0o644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.HTTP.InstallPort)
	})
}
