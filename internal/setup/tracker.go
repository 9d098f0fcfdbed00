package setup

import (
	"context"
	"errors"
	"time"

	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
	"grimm.is/hmdl/internal/state"
)

// SettingsReader is the part of the store the tracker needs.
type SettingsReader interface {
	GetSettings(ctx context.Context) (*state.Settings, error)
}

// Tracker reads the settings on start and on every refresh request, and
// publishes the derived Status.
type Tracker struct {
	store   SettingsReader
	status  *events.Topic[Status]
	refresh *events.Signal
	logger  *logging.Logger

	// RetryInterval is how soon a failed store read is retried without
	// waiting for a refresh request.
	RetryInterval time.Duration

	current Status
}

// NewTracker creates a tracker.
func NewTracker(store SettingsReader, status *events.Topic[Status], refresh *events.Signal, logger *logging.Logger) *Tracker {
	return &Tracker{
		store:         store,
		status:        status,
		refresh:       refresh,
		logger:        logger,
		RetryInterval: 5 * time.Second,
	}
}

// Name returns the service name.
func (t *Tracker) Name() string { return "setup" }

// Run publishes the initial status, then republishes on refresh until ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	var retry <-chan time.Time
	check := func() {
		retry = nil
		if err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
			t.logger.Warn("failed to read settings, will retry", "error", err)
			retry = time.After(t.RetryInterval)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.refresh.C():
			check()
		case <-retry:
			check()
		}
	}
}

// Refresh reads the store once and publishes the status if it changed.
// A status never moves backwards; a regressed read keeps the current one.
func (t *Tracker) Refresh(ctx context.Context) error {
	st, err := t.store.GetSettings(ctx)
	if errors.Is(err, state.ErrNotFound) {
		st, err = nil, nil
	}
	if err != nil {
		return err
	}

	next := Classify(st)
	if t.current != nil {
		if next.Rank() < t.current.Rank() {
			t.logger.Warn("ignoring backwards status transition", "from", t.current.String(), "to", next.String())
			return nil
		}
		if next == t.current {
			return nil
		}
	}

	if t.current == nil || next.Rank() != t.current.Rank() {
		t.logger.Info("installation status", "status", next.String())
	}
	t.current = next
	metrics.Get().SetupStatus.Set(float64(next.Rank()))
	t.status.Publish(next)
	return nil
}
