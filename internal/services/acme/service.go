package acme

import (
	"context"
	"time"

	"grimm.is/hmdl/internal/clock"
	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/setup"
	"grimm.is/hmdl/internal/state"
	hmdltls "grimm.is/hmdl/internal/tls"
)

// Service waits for settings, obtains the first certificate, publishes the
// TLS configuration and then renews on a fixed interval.
type Service struct {
	prov   *Provisioner
	status *events.Topic[setup.Status]
	ready  *events.Topic[hmdltls.Ready]
	certs  *hmdltls.CertificateManager
	logger *logging.Logger

	// RenewInterval is the time between renewal attempts.
	RenewInterval time.Duration
	// RetryInterval is the wait after a failed initial acquisition.
	RetryInterval time.Duration
}

// NewService creates the provisioner service.
func NewService(prov *Provisioner, status *events.Topic[setup.Status], ready *events.Topic[hmdltls.Ready], certs *hmdltls.CertificateManager, logger *logging.Logger) *Service {
	return &Service{
		prov:          prov,
		status:        status,
		ready:         ready,
		certs:         certs,
		logger:        logger,
		RenewInterval: 6 * time.Hour,
		RetryInterval: 15 * time.Minute,
	}
}

// Name returns the service name.
func (s *Service) Name() string { return "acme" }

// Run returns nil when ctx ends. Acquisition failures never end the service:
// before the first certificate HTTPS stays down and the attempt is retried;
// after it the last good certificate stays live.
func (s *Service) Run(ctx context.Context) error {
	settings, err := s.awaitSettings(ctx)
	if err != nil {
		return nil
	}

	for {
		err := s.obtain(ctx, settings)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Error("certificate acquisition failed, HTTPS stays down", "domain", settings.Domain, "error", err, "retry_in", s.RetryInterval)
		if clock.Sleep(ctx, s.RetryInterval) != nil {
			return nil
		}
	}

	s.ready.Publish(hmdltls.Ready{Config: s.certs.TLSConfig(), Settings: settings})

	ticker := time.NewTicker(s.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.obtain(ctx, settings); err != nil && ctx.Err() == nil {
				s.logger.Error("certificate renewal failed, keeping current certificate", "domain", settings.Domain, "error", err)
			}
		}
	}
}

func (s *Service) awaitSettings(ctx context.Context) (state.Settings, error) {
	sub := s.status.Subscribe()
	for {
		st, err := sub.Recv(ctx)
		if err != nil {
			return state.Settings{}, err
		}
		if settings, ok := setup.SettingsOf(st); ok {
			return settings, nil
		}
	}
}

func (s *Service) obtain(ctx context.Context, settings state.Settings) error {
	cert, issued, err := s.prov.Obtain(ctx, settings)
	if err != nil {
		metrics.Get().CertAcquisitions.WithLabelValues("failed").Inc()
		return err
	}

	s.certs.SetCertificate(cert)
	metrics.Get().CertExpiry.Set(float64(cert.Leaf.NotAfter.Unix()))
	if issued {
		metrics.Get().CertAcquisitions.WithLabelValues("issued").Inc()
		s.logger.Info("certificate issued", "domain", settings.Domain, "expires", cert.Leaf.NotAfter)
	} else {
		metrics.Get().CertAcquisitions.WithLabelValues("reused").Inc()
		s.logger.Info("reusing stored certificate", "domain", settings.Domain, "expires", cert.Leaf.NotAfter)
	}
	return nil
}
