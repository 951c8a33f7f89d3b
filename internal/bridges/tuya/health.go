package tuya

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// HealthMessage is the retained payload on HealthTopic, also served by the
// HTTP health endpoint.
type HealthMessage struct {
	Bridge             string       `json:"bridge"`
	Timestamp          time.Time    `json:"timestamp"`
	Status             HealthStatus `json:"status"`
	Version            string       `json:"version"`
	UptimeSeconds      int64        `json:"uptime_seconds"`
	DevicesManaged     int          `json:"devices_managed"`
	DevicesUnreachable int          `json:"devices_unreachable"`
	Reason             string       `json:"reason,omitempty"`
}

// HealthPublisher is the part of the MQTT client health reporting needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DeviceCounter reports how many sessions exist and how many of them
// failed their last exchange.
type DeviceCounter func() (managed, unreachable int)

type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration // defaults to 30s
	Publisher HealthPublisher
	Devices   DeviceCounter
}

// HealthReporter republishes the bridge health every interval so that a
// consumer joining late, or one watching for staleness, sees a fresh value.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	logMu  sync.RWMutex
	logger Logger

	stop     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
}

func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.Devices == nil {
		cfg.Devices = func() (int, int) { return 0, 0 }
	}
	return &HealthReporter{
		cfg:     cfg,
		started: time.Now(),
		logger:  noopLogger{},
		stop:    make(chan struct{}),
	}
}

func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.logMu.Lock()
	h.logger = logger
	h.logMu.Unlock()
}

func (h *HealthReporter) log() Logger {
	h.logMu.RLock()
	defer h.logMu.RUnlock()
	return h.logger
}

// Start publishes on every tick until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.loop.Add(1)
	go func() {
		defer h.loop.Done()

		tick := time.NewTicker(h.cfg.Interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-tick.C:
				if err := h.PublishNow(); err != nil {
					h.log().Error("failed to publish health", "error", err)
				}
			}
		}
	}()
}

// Stop ends the loop and leaves a retained "stopping" status behind.
// Later calls do nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.loop.Wait()
		if err := h.publish(h.message(HealthStopping, "bridge stopping")); err != nil {
			h.log().Debug("final health not published", "error", err)
		}
	})
}

func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.message(HealthStarting, "bridge starting"))
}

func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current assesses health now: degraded while the broker is unreachable
// or any device failed its last exchange.
func (h *HealthReporter) Current() HealthMessage {
	_, unreachable := h.cfg.Devices()
	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		return h.message(HealthDegraded, "MQTT disconnected")
	case unreachable > 0:
		return h.message(HealthDegraded, fmt.Sprintf("%d device(s) unreachable", unreachable))
	default:
		return h.message(HealthHealthy, "")
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	managed, unreachable := h.cfg.Devices()
	return HealthMessage{
		Bridge:             h.cfg.BridgeID,
		Timestamp:          time.Now().UTC(),
		Status:             status,
		Version:            h.cfg.Version,
		UptimeSeconds:      int64(time.Since(h.started).Seconds()),
		DevicesManaged:     managed,
		DevicesUnreachable: unreachable,
		Reason:             reason,
	}
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}
