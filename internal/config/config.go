// Package config holds the appliance's operational settings.
//
// The configuration file carries only non-secret knobs (ports, intervals,
// upstreams). The install settings (domain, provider token, contact email)
// live in the policy store and are written through the setup endpoint.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"grimm.is/hmdl/internal/brand"
)

// ACME directories.
const (
	LetsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"
	LetsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Propagation check methods.
const (
	PropagationDig      = "dig"
	PropagationResolver = "resolver"
)

// Config is the top-level structure for the appliance configuration.
type Config struct {
	StateDir string `hcl:"state_dir,optional" json:"state_dir"`
	LogLevel string `hcl:"log_level,optional" json:"log_level"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json"`

	DNS        *DNSConfig        `hcl:"dns,block" json:"dns"`
	HTTP       *HTTPConfig       `hcl:"http,block" json:"http"`
	ACME       *ACMEConfig       `hcl:"acme,block" json:"acme"`
	IPMonitor  *IPMonitorConfig  `hcl:"ip_monitor,block" json:"ip_monitor"`
	Cloudflare *CloudflareConfig `hcl:"cloudflare,block" json:"cloudflare"`
}

// DNSConfig configures the filtering resolver.
type DNSConfig struct {
	Port            int      `hcl:"port,optional" json:"port"`
	Upstreams       []string `hcl:"upstreams,optional" json:"upstreams"`
	UpstreamTimeout string   `hcl:"upstream_timeout,optional" json:"upstream_timeout"`
	// BlockRcode is the response code sent for blocked names. Values above
	// 15 are carried as an EDNS extended rcode.
	BlockRcode int `hcl:"block_rcode,optional" json:"block_rcode"`

	upstreamTimeout time.Duration
}

// HTTPConfig configures the plaintext install server and the HTTPS server.
type HTTPConfig struct {
	ListenAddress string `hcl:"listen_address,optional" json:"listen_address"`
	InstallPort   int    `hcl:"install_port,optional" json:"install_port"`
	SecurePort    int    `hcl:"secure_port,optional" json:"secure_port"`
}

// ACMEConfig configures certificate provisioning.
type ACMEConfig struct {
	DirectoryURL        string `hcl:"directory_url,optional" json:"directory_url"`
	Staging             *bool  `hcl:"staging,optional" json:"staging"`
	PropagationCheck    string `hcl:"propagation_check,optional" json:"propagation_check"`
	PropagationResolver string `hcl:"propagation_resolver,optional" json:"propagation_resolver"`
	PropagationInterval string `hcl:"propagation_interval,optional" json:"propagation_interval"`
	RenewInterval       string `hcl:"renew_interval,optional" json:"renew_interval"`
	RenewBeforeDays     int    `hcl:"renew_before_days,optional" json:"renew_before_days"`
	RetryInterval       string `hcl:"retry_interval,optional" json:"retry_interval"`

	propagationInterval time.Duration
	renewInterval       time.Duration
	retryInterval       time.Duration
}

// IPMonitorConfig configures interface address polling.
type IPMonitorConfig struct {
	Interval        string `hcl:"interval,optional" json:"interval"`
	IncludeLoopback bool   `hcl:"include_loopback,optional" json:"include_loopback"`

	interval time.Duration
}

// CloudflareConfig configures the DNS provider client.
type CloudflareConfig struct {
	APIURL         string `hcl:"api_url,optional" json:"api_url"`
	ReconcileRetry string `hcl:"reconcile_retry,optional" json:"reconcile_retry"`

	reconcileRetry time.Duration
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.normalize(); err != nil {
		panic("default config invalid: " + err.Error())
	}
	return cfg
}

// DatabasePath returns the policy store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, brand.DatabaseFileName)
}

// normalize fills defaults and parses durations.
func (c *Config) normalize() error {
	if c.StateDir == "" {
		c.StateDir = brand.GetStateDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DNS == nil {
		c.DNS = &DNSConfig{}
	}
	if c.HTTP == nil {
		c.HTTP = &HTTPConfig{}
	}
	if c.ACME == nil {
		c.ACME = &ACMEConfig{}
	}
	if c.IPMonitor == nil {
		c.IPMonitor = &IPMonitorConfig{}
	}
	if c.Cloudflare == nil {
		c.Cloudflare = &CloudflareConfig{}
	}

	d := c.DNS
	if d.Port == 0 {
		d.Port = 53
	}
	if len(d.Upstreams) == 0 {
		d.Upstreams = []string{"8.8.8.8:53", "8.8.4.4:53"}
	}
	if d.BlockRcode == 0 {
		d.BlockRcode = 3841
	}
	var err error
	if d.upstreamTimeout, err = parseDuration("dns.upstream_timeout", d.UpstreamTimeout, 2*time.Second); err != nil {
		return err
	}

	h := c.HTTP
	if h.InstallPort == 0 {
		h.InstallPort = 80
	}
	if h.SecurePort == 0 {
		h.SecurePort = 443
	}

	a := c.ACME
	if a.Staging == nil {
		staging := defaultStaging
		a.Staging = &staging
	}
	if a.PropagationCheck == "" {
		a.PropagationCheck = PropagationDig
	}
	if a.PropagationResolver == "" {
		a.PropagationResolver = "1.1.1.1:53"
	}
	if a.RenewBeforeDays == 0 {
		a.RenewBeforeDays = 30
	}
	if a.propagationInterval, err = parseDuration("acme.propagation_interval", a.PropagationInterval, 60*time.Second); err != nil {
		return err
	}
	if a.renewInterval, err = parseDuration("acme.renew_interval", a.RenewInterval, 6*time.Hour); err != nil {
		return err
	}
	if a.retryInterval, err = parseDuration("acme.retry_interval", a.RetryInterval, 15*time.Minute); err != nil {
		return err
	}

	if c.IPMonitor.interval, err = parseDuration("ip_monitor.interval", c.IPMonitor.Interval, 60*time.Second); err != nil {
		return err
	}

	cf := c.Cloudflare
	if cf.APIURL == "" {
		cf.APIURL = "https://api.cloudflare.com/client/v4"
	}
	if cf.reconcileRetry, err = parseDuration("cloudflare.reconcile_retry", cf.ReconcileRetry, 5*time.Minute); err != nil {
		return err
	}

	return c.Validate()
}

// Validate checks value ranges after defaults are applied.
func (c *Config) Validate() error {
	if err := validPort("dns.port", c.DNS.Port); err != nil {
		return err
	}
	if err := validPort("http.install_port", c.HTTP.InstallPort); err != nil {
		return err
	}
	if err := validPort("http.secure_port", c.HTTP.SecurePort); err != nil {
		return err
	}
	if c.HTTP.InstallPort == c.HTTP.SecurePort {
		return fmt.Errorf("http.install_port and http.secure_port must differ")
	}
	for _, u := range c.DNS.Upstreams {
		if _, _, err := net.SplitHostPort(u); err != nil {
			return fmt.Errorf("dns.upstreams: %q must be host:port: %w", u, err)
		}
	}
	if c.DNS.BlockRcode < 1 || c.DNS.BlockRcode > 4095 {
		return fmt.Errorf("dns.block_rcode must be between 1 and 4095, got %d", c.DNS.BlockRcode)
	}
	switch c.ACME.PropagationCheck {
	case PropagationDig, PropagationResolver:
	default:
		return fmt.Errorf("acme.propagation_check must be %q or %q", PropagationDig, PropagationResolver)
	}
	if c.ACME.RenewBeforeDays < 1 || c.ACME.RenewBeforeDays > 89 {
		return fmt.Errorf("acme.renew_before_days must be between 1 and 89")
	}
	return nil
}

// UpstreamTimeoutDuration returns the parsed upstream exchange timeout.
func (d *DNSConfig) UpstreamTimeoutDuration() time.Duration { return d.upstreamTimeout }

// Directory returns the ACME directory URL to use.
func (a *ACMEConfig) Directory() string {
	if a.DirectoryURL != "" {
		return a.DirectoryURL
	}
	if a.Staging != nil && *a.Staging {
		return LetsEncryptStaging
	}
	return LetsEncryptProduction
}

// PropagationIntervalDuration returns the parsed TXT polling interval.
func (a *ACMEConfig) PropagationIntervalDuration() time.Duration { return a.propagationInterval }

// RenewIntervalDuration returns the parsed renewal interval.
func (a *ACMEConfig) RenewIntervalDuration() time.Duration { return a.renewInterval }

// RetryIntervalDuration returns the parsed delay after a failed initial acquisition.
func (a *ACMEConfig) RetryIntervalDuration() time.Duration { return a.retryInterval }

// RenewBefore returns the minimum remaining validity for reuse.
func (a *ACMEConfig) RenewBefore() time.Duration {
	return time.Duration(a.RenewBeforeDays) * 24 * time.Hour
}

// IntervalDuration returns the parsed polling interval.
func (m *IPMonitorConfig) IntervalDuration() time.Duration { return m.interval }

// ReconcileRetryDuration returns the parsed delay before retrying a failed reconcile.
func (c *CloudflareConfig) ReconcileRetryDuration() time.Duration { return c.reconcileRetry }

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}
