package ddns

import (
	"context"
	"time"

	"grimm.is/hmdl/internal/cloudflare"
	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/network"
	"grimm.is/hmdl/internal/setup"
	"grimm.is/hmdl/internal/state"
)

// ProviderFactory builds a provider client for an API token.
type ProviderFactory func(token string) cloudflare.Provider

// Service reconciles whenever the address set or the settings change.
// Nothing happens until both an address set and settings are available.
type Service struct {
	addrs       *events.Topic[network.AddrSet]
	status      *events.Topic[setup.Status]
	newProvider ProviderFactory
	logger      *logging.Logger

	// RetryInterval is how long to wait before retrying a failed reconcile.
	RetryInterval time.Duration

	provider cloudflare.Provider
	token    string
}

// NewService creates the reconciler service.
func NewService(addrs *events.Topic[network.AddrSet], status *events.Topic[setup.Status], newProvider ProviderFactory, retry time.Duration, logger *logging.Logger) *Service {
	return &Service{
		addrs:         addrs,
		status:        status,
		newProvider:   newProvider,
		logger:        logger,
		RetryInterval: retry,
	}
}

// Name returns the service name.
func (s *Service) Name() string { return "ddns" }

type applied struct {
	domain string
	token  string
	addrs  string
}

// Run reconciles until ctx is cancelled. Provider failures are retried
// after RetryInterval and never end the service.
func (s *Service) Run(ctx context.Context) error {
	addrSub := s.addrs.Subscribe()
	statusSub := s.status.Subscribe()

	var (
		addrs     network.AddrSet
		haveAddrs bool
		settings  state.Settings
		haveSet   bool
		last      applied
		retry     <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-addrSub.Ready():
			if v, ok := addrSub.Next(); ok {
				addrs, haveAddrs = v, true
			}
		case <-statusSub.Ready():
			if v, ok := statusSub.Next(); ok {
				settings, haveSet = setup.SettingsOf(v)
			}
		case <-retry:
			last = applied{}
		}

		if !haveAddrs || !haveSet {
			continue
		}
		want := applied{domain: settings.Domain, token: settings.APIToken, addrs: addrs.String()}
		if want == last {
			continue
		}

		retry = nil
		res, err := Reconcile(ctx, s.providerFor(settings.APIToken), settings.Domain, addrs)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("record reconcile failed, will retry", "domain", settings.Domain, "error", err, "retry_in", s.RetryInterval)
			last = applied{}
			retry = time.After(s.RetryInterval)
			continue
		}
		last = want
		if res.Created > 0 || res.Deleted > 0 {
			s.logger.Info("address records updated", "domain", settings.Domain, "addrs", addrs.String(), "created", res.Created, "deleted", res.Deleted)
		}
	}
}

func (s *Service) providerFor(token string) cloudflare.Provider {
	if s.provider == nil || s.token != token {
		s.provider = s.newProvider(token)
		s.token = token
	}
	return s.provider
}
