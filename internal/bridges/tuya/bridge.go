package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-tuya/internal/device"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tuya/internal/profile"
	local "github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// requestTimeout bounds a blocking request such as refresh or infer_type.
	requestTimeout = 60 * time.Second

	// pollRefreshTimeout bounds one device refresh during polling.
	pollRefreshTimeout = 60 * time.Second

	// historyTimeout bounds one state history write.
	historyTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the bridge.
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

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// DeviceStore lists configured devices and stores inferred types.
// Satisfied by *device.Registry.
type DeviceStore interface {
	ListDevices() []device.Device
	SetDeviceType(ctx context.Context, id, deviceType string) error
}

// ProfileCatalog resolves device types to profiles and scores candidates
// during type inference. Satisfied by *profile.Catalog.
type ProfileCatalog interface {
	local.Catalog
	Get(configType string) (*profile.Profile, error)
}

// HistoryRecorder appends published states to the audit log. Optional.
// Satisfied by *device.SQLiteStateHistoryRepository.
type HistoryRecorder interface {
	RecordStateChange(ctx context.Context, deviceID string, state device.State, source string) error
}

// Telemetry receives refreshed state and session counters. Optional.
// Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteDeviceState(deviceID, name string, state map[string]any)
	WriteSessionStats(stats local.Stats)
}

// StateListener is called after every published state message.
type StateListener func(msg StateMessage)

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Config   config.TuyaConfig
	BridgeID string
	Version  string

	MQTTClient MQTTClient
	Opener     local.Opener
	Devices    DeviceStore
	Catalog    ProfileCatalog

	// History and Telemetry are optional.
	History   HistoryRecorder
	Telemetry Telemetry

	Logger Logger
}

// managedDevice is a device with an open session and a resolved profile.
type managedDevice struct {
	session *local.Session
	profile *profile.Profile
	name    string
}

// Bridge connects device sessions to MQTT.
// It handles:
//   - Opening a session per configured device and resolving its profile
//   - Translating MQTT commands into session writes
//   - Answering read_state, refresh and infer_type requests
//   - Polling devices and publishing changed state
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       config.TuyaConfig
	bridgeID  string
	mqtt      MQTTClient
	sessions  *local.Registry
	devices   DeviceStore
	catalog   ProfileCatalog
	history   HistoryRecorder
	telemetry Telemetry
	health    *HealthReporter

	managed   map[string]managedDevice
	managedMu sync.RWMutex

	// Last published state per device, for change detection.
	published   map[string]map[string]any
	publishedMu sync.Mutex

	listeners   []StateListener
	listenersMu sync.RWMutex

	// lifeMu orders wg.Add against Stop: once stopping is set under it,
	// no goroutine is added and wg.Wait cannot miss one.
	lifeMu    sync.Mutex
	stopping  bool
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge and its session registry. Call Start to begin.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Opener == nil {
		return nil, fmt.Errorf("transport opener is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("profile catalog is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		bridgeID:  bridgeID,
		mqtt:      opts.MQTTClient,
		devices:   opts.Devices,
		catalog:   opts.Catalog,
		history:   opts.History,
		telemetry: opts.Telemetry,
		managed:   make(map[string]managedDevice),
		published: make(map[string]map[string]any),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    logger,
	}

	sessions, err := local.NewRegistry(local.RegistryOptions{
		Opener:  opts.Opener,
		Workers: opts.Config.Workers,
		Session: local.Options{
			ProtocolVersions:   opts.Config.ProtocolVersions,
			FakeItTimeout:      opts.Config.FakeItTimeout,
			CacheTimeout:       opts.Config.CacheTimeout,
			ConnectionAttempts: opts.Config.ConnectionAttempts,
			DebounceDelay:      opts.Config.DebounceDelay,
			DebounceShortDelay: opts.Config.DebounceShortDelay,
			Logger:             logger,
			OnRefresh:          b.onRefresh,
			OnSend:             b.onSend,
		},
	})
	if err != nil {
		ctxCancel()
		return nil, fmt.Errorf("creating session registry: %w", err)
	}
	b.sessions = sessions

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Interval:  opts.Config.HealthInterval,
		Publisher: opts.MQTTClient,
		Devices:   b.deviceCounts,
	})
	b.health.SetLogger(logger)

	return b, nil
}

// Start opens a session for every stored device, subscribes to command and
// request topics, and starts health reporting and polling. A device that
// fails setup is logged and skipped.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.getLogger().Warn("failed to publish starting status", "error", err)
	}

	for _, dev := range b.devices.ListDevices() {
		if _, err := b.SetupDevice(ctx, dev); err != nil {
			b.getLogger().Error("device setup failed", "device", dev.ID, "error", err)
		}
	}

	commandTopic := topics.BridgeCommands(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	requestTopic := topics.BridgeRequests(Protocol)
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}

	b.health.Start(b.ctx)
	if err := b.health.PublishNow(); err != nil {
		b.getLogger().Warn("failed to publish health", "error", err)
	}

	if b.cfg.PollInterval > 0 {
		b.spawn(b.pollLoop)
	}

	b.getLogger().Info("bridge started", "bridge_id", b.bridgeID, "devices", b.ManagedCount())
	return nil
}

// Stop unsubscribes, stops polling and health reporting, and closes every
// session. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.lifeMu.Lock()
		b.stopping = true
		close(b.done)
		b.lifeMu.Unlock()
		b.ctxCancel()

		//nolint:errcheck // Best-effort during shutdown
		b.mqtt.Unsubscribe(topics.BridgeCommands(Protocol))
		//nolint:errcheck // Best-effort during shutdown
		b.mqtt.Unsubscribe(topics.BridgeRequests(Protocol))

		b.wg.Wait()
		b.health.Stop()

		if err := b.sessions.Close(); err != nil {
			b.getLogger().Warn("closing sessions", "error", err)
		}

		b.getLogger().Info("bridge stopped")
	})
}

// spawn runs fn on a goroutine tracked by Stop. It returns false, without
// running fn, once Stop has begun.
func (b *Bridge) spawn(fn func()) bool {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.stopping {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// Sessions returns the session registry owned by the bridge.
func (b *Bridge) Sessions() *local.Registry {
	return b.sessions
}

// Health returns the current bridge health.
func (b *Bridge) Health() HealthMessage {
	return b.health.Current()
}

// SetupDevice opens a session for dev and resolves its profile. A device
// of type "auto" has its type inferred from reported state and stored. A
// type that cannot be inferred or has no profile is a setup failure, and
// the session is closed again.
func (b *Bridge) SetupDevice(ctx context.Context, dev device.Device) (*local.Session, error) {
	uid := dev.UniqueID()

	s, err := b.sessions.Setup(ctx, dev.Identity())
	if err != nil {
		return nil, err
	}

	deviceType := dev.Type
	if dev.NeedsInference() {
		deviceType, err = s.InferType(ctx, b.catalog)
		if err != nil {
			b.discardSession(uid)
			return nil, fmt.Errorf("inferring type of %s: %w", uid, err)
		}
		if err := b.devices.SetDeviceType(ctx, dev.ID, deviceType); err != nil {
			b.discardSession(uid)
			return nil, fmt.Errorf("storing inferred type of %s: %w", uid, err)
		}
		b.getLogger().Info("device type inferred", "device", uid, "type", deviceType)
	}

	p, err := b.catalog.Get(deviceType)
	if err != nil {
		b.discardSession(uid)
		return nil, fmt.Errorf("device %s: %w", uid, err)
	}

	b.managedMu.Lock()
	b.managed[uid] = managedDevice{session: s, profile: p, name: dev.Name}
	b.managedMu.Unlock()

	b.getLogger().Info("device ready", "device", uid, "name", dev.Name, "profile", p.Name())

	// Publish whatever inference already fetched.
	if s.HasReturnedState() {
		b.publishState(uid, s.State(), SourceRefresh)
	}
	return s, nil
}

// RemoveDevice closes the session for uid and clears its retained state.
func (b *Bridge) RemoveDevice(uid string) error {
	b.managedMu.Lock()
	_, ok := b.managed[uid]
	delete(b.managed, uid)
	b.managedMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotManaged, uid)
	}

	b.publishedMu.Lock()
	delete(b.published, uid)
	b.publishedMu.Unlock()

	// An empty retained payload removes the retained state message.
	if err := b.mqtt.Publish(StateTopic(uid), nil, 1, true); err != nil {
		b.getLogger().Warn("failed to clear retained state", "device", uid, "error", err)
	}

	return b.sessions.Delete(uid)
}

// ManagedCount returns the number of devices with a ready session.
func (b *Bridge) ManagedCount() int {
	b.managedMu.RLock()
	defer b.managedMu.RUnlock()
	return len(b.managed)
}

// Write validates properties against the device profile and queues them.
// The write is flushed to the device after the debounce delay.
func (b *Bridge) Write(uid string, props map[string]any) error {
	m, err := b.lookup(uid)
	if err != nil {
		return err
	}
	if err := validateWrite(m.profile, props, false); err != nil {
		return err
	}
	m.session.WriteMany(props)
	return nil
}

// Anticipate stores values the device is expected to report, without
// device I/O, and publishes the resulting state.
func (b *Bridge) Anticipate(uid string, props map[string]any) (StateMessage, error) {
	m, err := b.lookup(uid)
	if err != nil {
		return StateMessage{}, err
	}
	if err := validateWrite(m.profile, props, true); err != nil {
		return StateMessage{}, err
	}

	for id, v := range props {
		m.session.Anticipate(id, v)
	}

	state := m.session.State()
	b.publishState(uid, state, SourceAnticipate)
	return b.buildStateMessage(uid, m, state, SourceAnticipate), nil
}

// State returns the merged state of a device without device I/O.
func (b *Bridge) State(uid string) (StateMessage, error) {
	m, err := b.lookup(uid)
	if err != nil {
		return StateMessage{}, err
	}
	return b.buildStateMessage(uid, m, m.session.State(), ""), nil
}

// Refresh fetches device state if the cache is stale and returns it.
func (b *Bridge) Refresh(ctx context.Context, uid string) (StateMessage, error) {
	m, err := b.lookup(uid)
	if err != nil {
		return StateMessage{}, err
	}
	if err := m.session.Refresh(ctx); err != nil {
		return StateMessage{}, err
	}
	return b.buildStateMessage(uid, m, m.session.State(), SourceRefresh), nil
}

// InferType scores the catalog against the device's state.
func (b *Bridge) InferType(ctx context.Context, uid string) (string, error) {
	m, err := b.lookup(uid)
	if err != nil {
		return "", err
	}
	return m.session.InferType(ctx, b.catalog)
}

// AddStateListener registers fn to receive every published state.
func (b *Bridge) AddStateListener(fn StateListener) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

func (b *Bridge) lookup(uid string) (managedDevice, error) {
	b.managedMu.RLock()
	m, ok := b.managed[uid]
	b.managedMu.RUnlock()
	if !ok {
		return managedDevice{}, fmt.Errorf("%w: %s", ErrDeviceNotManaged, uid)
	}
	return m, nil
}

func (b *Bridge) discardSession(uid string) {
	if err := b.sessions.Delete(uid); err != nil {
		b.getLogger().Warn("closing session after failed setup", "device", uid, "error", err)
	}
}

// validateWrite checks every property is mapped by the profile and fits its
// type. Read-only data points may only be anticipated.
func validateWrite(p *profile.Profile, props map[string]any, allowReadonly bool) error {
	if len(props) == 0 {
		return fmt.Errorf("%w: no properties", ErrInvalidValue)
	}
	for id, v := range props {
		dp, ok := p.Lookup(id)
		if !ok {
			return fmt.Errorf("%w: dp %s", ErrUnknownProperty, id)
		}
		if dp.Readonly && !allowReadonly {
			return fmt.Errorf("%w: dp %s (%s)", ErrReadonlyProperty, id, dp.Name)
		}
		if !dp.Accepts(v) {
			return fmt.Errorf("%w: dp %s expects %s, got %T", ErrInvalidValue, id, dp.Type, v)
		}
	}
	return nil
}

// =============================================================================
// Session hooks and state publication
// =============================================================================

func (b *Bridge) onRefresh(s *local.Session, state map[string]any) {
	b.publishState(s.UniqueID(), state, SourceRefresh)
}

func (b *Bridge) onSend(s *local.Session, _ map[string]any) {
	b.publishState(s.UniqueID(), s.State(), SourceCommand)
}

// publishState publishes a changed state to MQTT (retained), the history
// log, telemetry and listeners. Unchanged states and devices still being
// set up are skipped.
func (b *Bridge) publishState(uid string, state map[string]any, source string) {
	m, err := b.lookup(uid)
	if err != nil {
		return
	}
	if b.stateUnchanged(uid, state) {
		return
	}

	msg := b.buildStateMessage(uid, m, state, source)
	logger := b.getLogger()

	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal state", "device", uid, "error", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(uid), payload, 1, true); err != nil {
		logger.Warn("failed to publish state", "device", uid, "error", err)
	}

	if b.history != nil {
		ctx, cancel := context.WithTimeout(b.ctx, historyTimeout)
		err := b.history.RecordStateChange(ctx, uid, device.State(msg.State), source)
		cancel()
		if err != nil {
			logger.Warn("failed to record state history", "device", uid, "error", err)
		}
	}

	if b.telemetry != nil && source == SourceRefresh {
		b.telemetry.WriteDeviceState(uid, m.name, state)
	}

	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

func (b *Bridge) buildStateMessage(uid string, m managedDevice, state map[string]any, source string) StateMessage {
	entities := make(map[string]map[string]any)
	for i, e := range m.profile.Entities() {
		if values := e.Values(state); len(values) > 0 {
			entities[e.UniqueID(uid, i == 0)] = values
		}
	}

	return StateMessage{
		DeviceID:  uid,
		Name:      m.name,
		Type:      m.profile.ConfigType(),
		Timestamp: time.Now().UTC(),
		State:     state,
		Entities:  entities,
		Source:    source,
		Protocol:  Protocol,
	}
}

// stateUnchanged reports whether state matches the last published state,
// ignoring the refresh timestamp, and records it when it does not.
func (b *Bridge) stateUnchanged(uid string, state map[string]any) bool {
	current := maps.Clone(state)
	delete(current, local.UpdatedAtKey)

	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()

	if last, ok := b.published[uid]; ok && reflect.DeepEqual(last, current) {
		return true
	}
	b.published[uid] = current
	return false
}

// =============================================================================
// Polling and health
// =============================================================================

func (b *Bridge) pollLoop() {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.PollOnce(b.ctx)
		}
	}
}

// PollOnce refreshes every managed device through a bounded worker pool.
// Refresh failures are logged; state changes publish through the session
// refresh hook.
func (b *Bridge) PollOnce(ctx context.Context) {
	b.managedMu.RLock()
	devices := make([]managedDevice, 0, len(b.managed))
	for _, m := range b.managed {
		devices = append(devices, m)
	}
	b.managedMu.RUnlock()

	var g errgroup.Group
	if b.cfg.Workers > 0 {
		g.SetLimit(b.cfg.Workers)
	}

	for _, m := range devices {
		g.Go(func() error {
			refreshCtx, cancel := context.WithTimeout(ctx, pollRefreshTimeout)
			defer cancel()

			if err := m.session.Refresh(refreshCtx); err != nil && ctx.Err() == nil {
				b.getLogger().Warn("device poll failed", "device", m.session.UniqueID(), "error", err)
			}
			if b.telemetry != nil {
				b.telemetry.WriteSessionStats(m.session.Stats())
			}
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // Workers never return errors
}

// deviceCounts reports managed devices and those whose last operation
// exhausted its attempts.
func (b *Bridge) deviceCounts() (managed, unreachable int) {
	b.managedMu.RLock()
	defer b.managedMu.RUnlock()

	for _, m := range b.managed {
		if !m.session.ProtocolWorking() && m.session.Stats().Failures > 0 {
			unreachable++
		}
	}
	return len(b.managed), unreachable
}

// =============================================================================
// MQTT handlers
// =============================================================================

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid topic format: %s", topic)
	}

	switch parts[1] {
	case "command":
		return b.handleCommand(topic, payload)
	case "request":
		// Requests may wait on relay responses, which arrive through the
		// same delivery goroutine, so they run on their own.
		b.spawn(func() { b.handleRequest(topic, payload) })
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", parts[1])
	}
}

// handleCommand applies a command message and publishes its ack.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command: %w", err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = mqtt.LastSegment(topic)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.getLogger().Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"properties", len(cmd.Properties))

	if err := b.Write(cmd.DeviceID, cmd.Properties); err != nil {
		b.publishAck(NewAckError(cmd, errorCode(err), err.Error()))
		return nil
	}

	b.publishAck(NewAckMessage(cmd, AckAccepted))
	return nil
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.getLogger().Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.getLogger().Warn("failed to publish ack", "device", ack.DeviceID, "error", err)
	}
}

// handleRequest answers a request message on its response topic.
func (b *Bridge) handleRequest(topic string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.getLogger().Warn("failed to parse request", "topic", topic, "error", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = mqtt.LastSegment(topic)
	}

	b.getLogger().Info("received request",
		"request_id", req.RequestID,
		"action", req.Action,
		"device_id", req.DeviceID)

	resp := b.executeRequest(req)

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.getLogger().Error("failed to marshal response", "error", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.getLogger().Warn("failed to publish response", "request_id", req.RequestID, "error", err)
	}
}

func (b *Bridge) executeRequest(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return NewResponseError(req.RequestID, ErrCodeInvalidParameters, "device_id is required")
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	var data map[string]any
	switch req.Action {
	case ActionReadState:
		msg, err := b.State(req.DeviceID)
		if err != nil {
			return NewResponseError(req.RequestID, errorCode(err), err.Error())
		}
		data = stateData(msg)
	case ActionRefresh:
		msg, err := b.Refresh(ctx, req.DeviceID)
		if err != nil {
			return NewResponseError(req.RequestID, errorCode(err), err.Error())
		}
		data = stateData(msg)
	case ActionInferType:
		deviceType, err := b.InferType(ctx, req.DeviceID)
		if err != nil {
			return NewResponseError(req.RequestID, errorCode(err), err.Error())
		}
		data = map[string]any{"type": deviceType}
	default:
		return NewResponseError(req.RequestID, ErrCodeInvalidCommand, "unknown action: "+req.Action)
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func stateData(msg StateMessage) map[string]any {
	return map[string]any{
		"state":    msg.State,
		"entities": msg.Entities,
		"type":     msg.Type,
	}
}

// errorCode maps an operation error to a wire error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotManaged):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownProperty),
		errors.Is(err, ErrReadonlyProperty),
		errors.Is(err, ErrInvalidValue):
		return ErrCodeInvalidParameters
	case errors.Is(err, local.ErrTypeNotInferred):
		return ErrCodeTypeNotInferred
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrRelayTimeout):
		return ErrCodeTimeout
	case errors.Is(err, local.ErrRetriesExhausted), errors.Is(err, local.ErrSessionClosed):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeInvalidCommand
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}
