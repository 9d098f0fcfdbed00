package events

// Signal is a fire-and-forget notification. Notifications raised while the
// consumer is busy coalesce into one pending wakeup.
type Signal struct {
	name string
	ch   chan struct{}
}

// NewSignal creates a signal.
func NewSignal(name string) *Signal {
	return &Signal{name: name, ch: make(chan struct{}, 1)}
}

// Name returns the signal name.
func (s *Signal) Name() string {
	return s.name
}

// Notify raises the signal without blocking.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel a consumer receives wakeups on.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
