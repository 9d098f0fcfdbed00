package ddns

import (
	"context"
	"errors"
	"net/netip"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/libdns/libdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/hmdl/internal/cloudflare"
	"grimm.is/hmdl/internal/events"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/network"
	"grimm.is/hmdl/internal/setup"
	"grimm.is/hmdl/internal/state"
)

type fakeProvider struct {
	mu        sync.Mutex
	records   []libdns.Record
	appended  []libdns.Record
	deleted   []libdns.Record
	listErr   error
	appendErr map[string]error
	lists     int
}

func (f *fakeProvider) ZoneFor(context.Context, string) (string, error) {
	return "example.org.", nil
}

func (f *fakeProvider) GetRecords(context.Context, string) ([]libdns.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]libdns.Record(nil), f.records...), f.listErr
}

func (f *fakeProvider) AppendRecords(_ context.Context, _ string, recs []libdns.Record) ([]libdns.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		if err := f.appendErr[r.Value]; err != nil {
			return nil, err
		}
		f.appended = append(f.appended, r)
		f.records = append(f.records, r)
	}
	return recs, nil
}

func (f *fakeProvider) DeleteRecords(_ context.Context, _ string, recs []libdns.Record) ([]libdns.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, recs...)
	for _, r := range recs {
		for i, e := range f.records {
			if e.ID == r.ID {
				f.records = append(f.records[:i], f.records[i+1:]...)
				break
			}
		}
	}
	return recs, nil
}

func (f *fakeProvider) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended) + len(f.deleted)
}

func addrs(ss ...string) network.AddrSet {
	var out []netip.Addr
	for _, s := range ss {
		out = append(out, netip.MustParseAddr(s))
	}
	return network.NewAddrSet(out...)
}

func values(recs []libdns.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Type+" "+r.Value)
	}
	sort.Strings(out)
	return out
}

func TestReconcile_NoChangesNoMutations(t *testing.T) {
	p := &fakeProvider{records: []libdns.Record{
		{ID: "1", Type: "A", Name: "home", Value: "203.0.113.7"},
		{ID: "2", Type: "AAAA", Name: "home", Value: "2001:db8::7"},
		{ID: "3", Type: "A", Name: "other", Value: "203.0.113.9"},
		{ID: "4", Type: "TXT", Name: "home", Value: "hello"},
	}}

	res, err := Reconcile(context.Background(), p, "home.example.org", addrs("203.0.113.7", "2001:db8::7"))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, p.mutations())
}

func TestReconcile_SymmetricDifference(t *testing.T) {
	p := &fakeProvider{records: []libdns.Record{
		{ID: "1", Type: "A", Name: "home", Value: "203.0.113.7"},
		{ID: "2", Type: "A", Name: "home", Value: "203.0.113.8"},
	}}

	res, err := Reconcile(context.Background(), p, "home.example.org.", addrs("203.0.113.7", "192.168.1.2", "2001:db8::1", "127.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2, Deleted: 1}, res)
	assert.Equal(t, []string{"A 192.168.1.2", "AAAA 2001:db8::1"}, values(p.appended))
	assert.Equal(t, []string{"A 203.0.113.8"}, values(p.deleted))
	for _, r := range p.appended {
		assert.Equal(t, "home", r.Name)
	}
}

func TestReconcile_DeletesDuplicateRecords(t *testing.T) {
	p := &fakeProvider{records: []libdns.Record{
		{ID: "1", Type: "A", Name: "home", Value: "203.0.113.7"},
		{ID: "2", Type: "A", Name: "home", Value: "203.0.113.7"},
		{ID: "3", Type: "A", Name: "home", Value: "203.0.113.8"},
		{ID: "4", Type: "A", Name: "home", Value: "203.0.113.8"},
	}}

	res, err := Reconcile(context.Background(), p, "home.example.org", addrs("203.0.113.7"))
	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 3}, res)
	assert.Empty(t, p.appended)
	require.Len(t, p.records, 1)
	assert.Equal(t, "203.0.113.7", p.records[0].Value)

	res, err = Reconcile(context.Background(), p, "home.example.org", addrs("203.0.113.7"))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestReconcile_PartialFailureContinues(t *testing.T) {
	p := &fakeProvider{
		records:   []libdns.Record{{ID: "1", Type: "A", Name: "home", Value: "203.0.113.8"}},
		appendErr: map[string]error{"192.168.1.2": errors.New("rate limited")},
	}

	res, err := Reconcile(context.Background(), p, "home.example.org", addrs("192.168.1.2", "192.168.1.3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, Result{Created: 1, Deleted: 1}, res)
}

func TestReconcile_ListFailure(t *testing.T) {
	p := &fakeProvider{listErr: errors.New("unreachable")}

	_, err := Reconcile(context.Background(), p, "home.example.org", addrs("192.168.1.2"))
	require.Error(t, err)
	assert.Zero(t, p.mutations())
}

func TestService_WaitsForSettingsThenReconciles(t *testing.T) {
	p := &fakeProvider{}
	addrTopic := events.NewTopic[network.AddrSet]("ip-addrs")
	statusTopic := events.NewTopic[setup.Status]("setup-status")
	factoryCalls := 0
	svc := NewService(addrTopic, statusTopic, func(token string) cloudflare.Provider {
		factoryCalls++
		assert.Equal(t, "secret", token)
		return p
	}, time.Hour, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	addrTopic.Publish(addrs("192.168.1.2"))
	statusTopic.Publish(setup.NotSetup{})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, p.mutations())

	settings := state.Settings{Domain: "home.example.org", APIToken: "secret", Email: "admin@example.org"}
	statusTopic.Publish(setup.InProgress{Settings: settings})
	require.Eventually(t, func() bool { return p.mutations() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The same settings and addresses under a later status are not reapplied.
	statusTopic.Publish(setup.Setup{Settings: settings})
	time.Sleep(50 * time.Millisecond)
	p.mu.Lock()
	assert.Equal(t, 1, p.lists)
	p.mu.Unlock()

	addrTopic.Publish(addrs("192.168.1.3"))
	require.Eventually(t, func() bool { return p.mutations() == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, factoryCalls)
}

func TestService_RetriesAfterFailure(t *testing.T) {
	p := &fakeProvider{listErr: errors.New("unreachable")}
	addrTopic := events.NewTopic[network.AddrSet]("ip-addrs")
	statusTopic := events.NewTopic[setup.Status]("setup-status")
	svc := NewService(addrTopic, statusTopic, func(string) cloudflare.Provider { return p }, 20*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	addrTopic.Publish(addrs("192.168.1.2"))
	statusTopic.Publish(setup.Setup{Settings: state.Settings{Domain: "home.example.org", APIToken: "t"}})

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.lists >= 2 {
			p.listErr = nil
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return p.mutations() == 1 }, 2*time.Second, 10*time.Millisecond)
}
