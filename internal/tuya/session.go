package tuya

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Session defaults, matching the behaviour of the Tuya local integration.
const (
	// DefaultFakeItTimeout is how long an unconfirmed write stays visible.
	DefaultFakeItTimeout = 10 * time.Second

	// DefaultCacheTimeout is how long a refresh result is considered fresh.
	DefaultCacheTimeout = 20 * time.Second

	// DefaultConnectionAttempts bounds the attempts per transport operation.
	DefaultConnectionAttempts = 9

	// DefaultDebounceDelay is the flush delay used when the device was
	// contacted recently. It is also the "recently" window.
	DefaultDebounceDelay = time.Second

	// DefaultDebounceShortDelay is the flush delay used otherwise.
	DefaultDebounceShortDelay = time.Millisecond

	// TemperatureUnitCelsius is the only temperature unit Tuya devices report.
	TemperatureUnitCelsius = "C"

	// Manufacturer is reported in device info for every session.
	Manufacturer = "Tuya"
)

// Logger defines the logging interface used by sessions.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateFunc receives a session and a copy of its merged state.
type StateFunc func(s *Session, state map[string]any)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	ProtocolVersions   []string
	FakeItTimeout      time.Duration
	CacheTimeout       time.Duration
	ConnectionAttempts int
	DebounceDelay      time.Duration
	DebounceShortDelay time.Duration

	// Limiter bounds blocking transport I/O across sessions. Optional.
	Limiter *semaphore.Weighted

	// Logger is optional; nil discards output.
	Logger Logger

	// Now overrides the clock. Tests use it to age pending entries.
	Now func() time.Time

	// OnRefresh is called after every successful fetch.
	OnRefresh StateFunc

	// OnSend is called after every successful flush with the sent properties.
	OnSend StateFunc
}

func (o Options) withDefaults() Options {
	if len(o.ProtocolVersions) == 0 {
		o.ProtocolVersions = DefaultProtocolVersions
	}
	if o.FakeItTimeout <= 0 {
		o.FakeItTimeout = DefaultFakeItTimeout
	}
	if o.CacheTimeout <= 0 {
		o.CacheTimeout = DefaultCacheTimeout
	}
	if o.ConnectionAttempts <= 0 {
		o.ConnectionAttempts = DefaultConnectionAttempts
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = DefaultDebounceDelay
	}
	if o.DebounceShortDelay <= 0 {
		o.DebounceShortDelay = DefaultDebounceShortDelay
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is the live connection and state context for one device or
// gateway child.
//
// Reads, writes and anticipations never block on the device. Writes are
// coalesced and flushed by a debounce timer; Refresh and Flush block until
// the transport operation completes or exhausts its attempts.
//
// Lock ordering: ioMu before stateMu. stateMu is never held across
// transport calls.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	id        Identity
	transport Transport
	opts      Options
	logger    Logger

	// ioMu serialises transport I/O; one frame in flight per session.
	ioMu sync.Mutex

	negMu      sync.Mutex
	negotiator *versionNegotiator

	stateMu        sync.Mutex
	cache          *stateCache
	debounce       *time.Timer
	lastConnection time.Time

	refreshGroup singleflight.Group

	// ctx bounds transport calls for the session lifetime. Caller contexts
	// only bound how long a caller waits.
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	attempts  atomic.Uint64
	failures  atomic.Uint64
	refreshes atomic.Uint64
	flushes   atomic.Uint64
}

// DeviceInfo describes the device to the host platform.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
}

// Stats is a point-in-time view of session counters.
type Stats struct {
	UniqueID        string    `json:"unique_id"`
	ProtocolVersion string    `json:"protocol_version"`
	ProtocolWorking bool      `json:"protocol_working"`
	Attempts        uint64    `json:"attempts"`
	Failures        uint64    `json:"failures"`
	Refreshes       uint64    `json:"refreshes"`
	Flushes         uint64    `json:"flushes"`
	LastRefresh     time.Time `json:"last_refresh,omitzero"`
}

// Open connects a transport for id and returns a ready session. The first
// protocol version is applied before Open returns.
func Open(ctx context.Context, opener Opener, id Identity, opts Options) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, fmt.Errorf("opener is required")
	}

	opts = opts.withDefaults()

	tr, err := opener.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("opening transport for %s: %w", id.UniqueID(), err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		transport:  tr,
		opts:       opts,
		logger:     opts.Logger,
		negotiator: newVersionNegotiator(opts.ProtocolVersions),
		cache:      newStateCache(opts.FakeItTimeout),
		ctx:        sessCtx,
		cancel:     cancel,
	}

	if id.CID != "" {
		s.logger.Info("creating sub device", "cid", id.CID, "gateway", id.DeviceID)
	}
	s.rotateVersion()

	return s, nil
}

// Identity returns the identity the session was opened with.
func (s *Session) Identity() Identity {
	return s.id
}

// Name returns the configured device name.
func (s *Session) Name() string {
	return s.id.Name
}

// UniqueID returns the cid for sub-devices, otherwise the device id.
func (s *Session) UniqueID() string {
	return s.id.UniqueID()
}

// TemperatureUnit returns the unit temperatures are reported in.
func (s *Session) TemperatureUnit() string {
	return TemperatureUnitCelsius
}

// DeviceInfo returns the identifiers the host uses to group entities.
func (s *Session) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{s.UniqueID()},
		Name:         s.id.Name,
		Manufacturer: Manufacturer,
	}
}

// HasReturnedState reports whether the merged state holds anything beyond
// the refresh timestamp.
func (s *Session) HasReturnedState() bool {
	return len(s.State()) > 1
}

// Read returns the merged value of a property: pending writes first, then
// cached state. It never blocks on the device.
func (s *Session) Read(id string) (any, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.cache.lookup(id, s.opts.Now())
}

// State returns a copy of the merged state, including UpdatedAtKey.
func (s *Session) State() map[string]any {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.cache.merged(s.opts.Now())
}

// Anticipate writes a value straight into cached state. Use it when the next
// refresh is known to report the value; that refresh overwrites it.
func (s *Session) Anticipate(id string, value any) {
	s.stateMu.Lock()
	s.cache.anticipate(id, value)
	s.stateMu.Unlock()
}

// Write queues a single property write.
func (s *Session) Write(id string, value any) {
	s.WriteMany(map[string]any{id: value})
}

// WriteMany queues property writes and (re)arms the debounce timer. Writes
// arriving before the timer fires are sent in one frame.
func (s *Session) WriteMany(props map[string]any) {
	if len(props) == 0 || s.closed.Load() {
		return
	}

	now := s.opts.Now()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.cache.addPending(props, now)
	s.logger.Debug("pending updates queued", "device", s.UniqueID(), "properties", len(props))
	s.armDebounceLocked(now)
}

// armDebounceLocked replaces any scheduled flush. Caller holds stateMu.
func (s *Session) armDebounceLocked(now time.Time) {
	delay := s.opts.DebounceShortDelay
	if now.Sub(s.lastConnection) < s.opts.DebounceDelay {
		delay = s.opts.DebounceDelay
	}
	// Stamped at scheduling so a burst of writes keeps extending the window;
	// the send stamps it again on success.
	s.lastConnection = now

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(delay, s.flushFromTimer)
}

func (s *Session) flushFromTimer() {
	if err := s.flush(); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("pending update flush failed", "device", s.UniqueID(), "error", err)
	}
}

// Flush sends every live pending property in one control frame through the
// retry controller. On success the pending entries are kept, stamped with
// the send time, and the cache is marked stale so the next refresh fetches.
//
// The send runs under the session's context; ctx only bounds how long the
// caller waits. A send abandoned by its caller still completes.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.flush() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Session) flush() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.stateMu.Lock()
	props := s.cache.pendingProperties(s.opts.Now())
	s.stateMu.Unlock()

	if len(props) == 0 {
		return nil
	}

	s.logger.Debug("sending dps update", "device", s.UniqueID(), "dps", props)

	err := s.execute(func(ctx context.Context) error {
		frame, err := s.transport.BuildPayload(OpControl, props)
		if err != nil {
			return err
		}
		if _, err := s.transport.SendReceive(ctx, frame); err != nil {
			return err
		}

		now := s.opts.Now()
		s.stateMu.Lock()
		s.cache.markStale()
		s.cache.stampPending(now)
		s.lastConnection = now
		s.stateMu.Unlock()
		return nil
	}, "failed to update device state")

	if err != nil {
		flushesTotal.WithLabelValues(s.UniqueID(), resultFailure).Inc()
		return err
	}

	s.flushes.Add(1)
	flushesTotal.WithLabelValues(s.UniqueID(), resultSuccess).Inc()
	if s.opts.OnSend != nil {
		s.opts.OnSend(s, props)
	}
	return nil
}

// Refresh fetches device state when the cache is older than the cache
// timeout or has never been filled. Concurrent callers share one fetch and
// its result. Cancelling ctx stops waiting but not the shared fetch.
func (s *Session) Refresh(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	ch := s.refreshGroup.DoChan("refresh", func() (any, error) {
		return nil, s.refreshIfStale()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Session) refreshIfStale() error {
	now := s.opts.Now()

	s.stateMu.Lock()
	last := s.cache.updatedAt()
	s.stateMu.Unlock()

	if !last.IsZero() && now.Sub(last) < s.opts.CacheTimeout {
		return nil
	}
	return s.fetch()
}

// fetch pulls device status through the retry controller.
func (s *Session) fetch() error {
	s.logger.Debug("refreshing device state", "device", s.UniqueID())

	var dps map[string]any
	err := s.execute(func(ctx context.Context) error {
		status, err := s.transport.Status(ctx)
		if err != nil {
			return err
		}
		dps = status
		return nil
	}, fmt.Sprintf("failed to refresh device state for %s", s.displayName()))

	if err != nil {
		refreshesTotal.WithLabelValues(s.UniqueID(), resultFailure).Inc()
		return err
	}

	s.stateMu.Lock()
	now := s.opts.Now()
	s.cache.applyRefresh(dps, now)
	state := s.cache.merged(now)
	s.stateMu.Unlock()

	s.refreshes.Add(1)
	refreshesTotal.WithLabelValues(s.UniqueID(), resultSuccess).Inc()
	s.logger.Debug("refreshed device state", "device", s.UniqueID(), "dps", dps)

	if s.opts.OnRefresh != nil {
		s.opts.OnRefresh(s, state)
	}
	return nil
}

// execute runs op until it succeeds or the attempt budget is spent. It is
// the only place transport operations are retried.
//
// Every failure while the protocol is not known to work rotates the
// protocol version. The final failure marks the protocol not working and
// empties cached state so the next refresh starts cold.
func (s *Session) execute(op func(ctx context.Context) error, message string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Acquire(s.ctx, 1); err != nil {
			return ErrSessionClosed
		}
		defer s.opts.Limiter.Release(1)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.ConnectionAttempts; attempt++ {
		if s.ctx.Err() != nil {
			return ErrSessionClosed
		}

		s.attempts.Add(1)
		attemptsTotal.WithLabelValues(s.UniqueID()).Inc()

		err := op(s.ctx)
		if err == nil {
			s.setWorking(true)
			return nil
		}
		lastErr = err

		s.logger.Debug("retrying after transport error",
			"device", s.UniqueID(),
			"attempt", attempt,
			"error", err)

		if attempt == s.opts.ConnectionAttempts {
			s.setWorking(false)
			s.stateMu.Lock()
			s.cache.resetCached()
			s.stateMu.Unlock()

			s.failures.Add(1)
			exhaustedTotal.WithLabelValues(s.UniqueID()).Inc()
			s.logger.Error(message, "device", s.UniqueID(), "error", err)
		}

		if !s.isWorking() {
			s.rotateVersion()
		}
	}

	return fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, message, lastErr)
}

// rotateVersion selects the next protocol version and applies it to the
// transport. Callers hold ioMu, except Open before the session is shared.
func (s *Session) rotateVersion() {
	s.negMu.Lock()
	version := s.negotiator.rotate()
	s.negMu.Unlock()

	s.logger.Info("setting protocol version", "device", s.UniqueID(), "version", version)
	s.transport.SetVersion(version)
	rotationsTotal.WithLabelValues(s.UniqueID(), version).Inc()
}

func (s *Session) setWorking(working bool) {
	s.negMu.Lock()
	s.negotiator.working = working
	s.negMu.Unlock()
}

func (s *Session) isWorking() bool {
	s.negMu.Lock()
	defer s.negMu.Unlock()
	return s.negotiator.working
}

// ProtocolVersion returns the protocol version currently applied.
func (s *Session) ProtocolVersion() string {
	s.negMu.Lock()
	defer s.negMu.Unlock()
	return s.negotiator.current()
}

// ProtocolWorking reports whether the current version has been accepted.
func (s *Session) ProtocolWorking() bool {
	return s.isWorking()
}

// Stats returns session counters.
func (s *Session) Stats() Stats {
	s.stateMu.Lock()
	last := s.cache.updatedAt()
	s.stateMu.Unlock()

	s.negMu.Lock()
	version := s.negotiator.current()
	working := s.negotiator.working
	s.negMu.Unlock()

	return Stats{
		UniqueID:        s.UniqueID(),
		ProtocolVersion: version,
		ProtocolWorking: working,
		Attempts:        s.attempts.Load(),
		Failures:        s.failures.Load(),
		Refreshes:       s.refreshes.Load(),
		Flushes:         s.flushes.Load(),
		LastRefresh:     last,
	}
}

// Close cancels any scheduled flush, waits for in-flight I/O to finish and
// closes the transport. Safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.cancel()

	s.stateMu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.stateMu.Unlock()

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if err := s.transport.Close(); err != nil {
		return fmt.Errorf("closing transport for %s: %w", s.UniqueID(), err)
	}
	return nil
}

func (s *Session) displayName() string {
	if s.id.Name != "" {
		return s.id.Name
	}
	return s.UniqueID()
}
