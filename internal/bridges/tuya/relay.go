package tuya

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/mqtt"
	local "github.com/nerrad567/gray-logic-tuya/internal/tuya"
)

const defaultRelayTimeout = 5 * time.Second

// relayRequest is published to the codec daemon for every transport call.
// Topic: {prefix}/request/{device_id}
type relayRequest struct {
	RequestID string         `json:"request_id"`
	DeviceID  string         `json:"device_id"`
	CID       string         `json:"cid,omitempty"`
	Address   string         `json:"address"`
	LocalKey  string         `json:"local_key"`
	Version   string         `json:"version"`
	Opcode    local.Opcode   `json:"opcode"`
	DPS       map[string]any `json:"dps,omitempty"`
}

// relayResponse is the codec daemon's answer.
// Topic: {prefix}/response/{request_id}
type relayResponse struct {
	RequestID string         `json:"request_id"`
	DPS       map[string]any `json:"dps,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RelayOpener opens transports that reach devices through an external codec
// daemon over MQTT. The daemon owns framing and encryption; the relay only
// correlates requests and responses.
//
// Thread Safety: All methods are safe for concurrent use.
type RelayOpener struct {
	client  MQTTClient
	prefix  string
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	pending map[string]chan relayResponse
	started bool
}

// NewRelayOpener creates an opener. Call Start before opening transports.
func NewRelayOpener(client MQTTClient, cfg config.TuyaRelayConfig, logger Logger) *RelayOpener {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &RelayOpener{
		client:  client,
		prefix:  cfg.RequestTopicPrefix,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]chan relayResponse),
	}
}

// Start subscribes to relay responses.
func (o *RelayOpener) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}

	topic := topics.AllRelayResponses(o.prefix)
	if err := o.client.Subscribe(topic, 1, o.handleResponse); err != nil {
		return fmt.Errorf("subscribe to relay responses: %w", err)
	}
	o.started = true
	return nil
}

// Stop unsubscribes from relay responses. Requests still waiting time out.
func (o *RelayOpener) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	o.started = false
	return o.client.Unsubscribe(topics.AllRelayResponses(o.prefix))
}

// Open returns a transport for id. No traffic is sent until the first call.
func (o *RelayOpener) Open(_ context.Context, id local.Identity) (local.Transport, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &relayTransport{opener: o, id: id}, nil
}

// Pending returns the number of requests awaiting a response.
func (o *RelayOpener) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// roundTrip publishes req and waits for the matching response.
func (o *RelayOpener) roundTrip(ctx context.Context, req relayRequest) (map[string]any, error) {
	req.RequestID = uuid.NewString()

	ch := make(chan relayResponse, 1)
	o.mu.Lock()
	o.pending[req.RequestID] = ch
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.pending, req.RequestID)
		o.mu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding relay request: %w", err)
	}

	if err := o.client.Publish(topics.RelayRequest(o.prefix, req.DeviceID), payload, 1, false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %v", ErrRelayTimeout, req.Opcode, o.timeout)
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRelayFailed, resp.Error)
		}
		return resp.DPS, nil
	}
}

// handleResponse routes a relay response to its waiting request.
func (o *RelayOpener) handleResponse(topic string, payload []byte) error {
	var resp relayResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding relay response: %w", err)
	}
	if resp.RequestID == "" {
		resp.RequestID = mqtt.LastSegment(topic)
	}

	o.mu.Lock()
	ch, ok := o.pending[resp.RequestID]
	o.mu.Unlock()

	if !ok {
		o.logger.Debug("dropping relay response with no pending request", "request_id", resp.RequestID)
		return nil
	}

	select {
	case ch <- resp:
	default:
	}
	return nil
}

// relayTransport implements local.Transport over the relay.
type relayTransport struct {
	opener *RelayOpener
	id     local.Identity

	mu      sync.Mutex
	version string
	closed  bool
}

func (t *relayTransport) Status(ctx context.Context) (map[string]any, error) {
	return t.send(ctx, local.OpStatus, nil)
}

func (t *relayTransport) BuildPayload(op local.Opcode, properties map[string]any) (local.Frame, error) {
	switch op {
	case local.OpControl, local.OpStatus, local.OpHeartbeat:
	default:
		return local.Frame{}, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, op)
	}
	return local.Frame{Opcode: op, Properties: maps.Clone(properties)}, nil
}

func (t *relayTransport) SendReceive(ctx context.Context, frame local.Frame) (map[string]any, error) {
	return t.send(ctx, frame.Opcode, frame.Properties)
}

func (t *relayTransport) SetVersion(version string) {
	t.mu.Lock()
	t.version = version
	t.mu.Unlock()
}

func (t *relayTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *relayTransport) send(ctx context.Context, op local.Opcode, dps map[string]any) (map[string]any, error) {
	t.mu.Lock()
	closed := t.closed
	version := t.version
	t.mu.Unlock()

	if closed {
		return nil, ErrTransportClosed
	}

	return t.opener.roundTrip(ctx, relayRequest{
		DeviceID: t.id.DeviceID,
		CID:      t.id.CID,
		Address:  t.id.Address,
		LocalKey: t.id.LocalKey,
		Version:  version,
		Opcode:   op,
		DPS:      dps,
	})
}
