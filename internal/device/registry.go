package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Logger is the subset of logging.Logger the registry uses.
type Logger interface {
	Info(msg string, args ...any)
}

type discard struct{}

func (discard) Info(string, ...any) {}

// Registry is the device table fronted by an in-memory copy. Reads are
// served from memory; writes go to the Repository first and update memory
// only when they succeed. Devices handed out are copies.
type Registry struct {
	repo   Repository
	logger Logger

	mu      sync.RWMutex
	devices map[string]Device
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, logger: discard{}, devices: make(map[string]Device)}
}

// SetLogger sets the logger; nil silences it.
func (r *Registry) SetLogger(l Logger) {
	if l == nil {
		l = discard{}
	}
	r.logger = l
}

func (r *Registry) remember(d Device) {
	r.mu.Lock()
	r.devices[d.ID] = d
	r.mu.Unlock()
}

// RefreshCache replaces the in-memory copy with the repository contents.
func (r *Registry) RefreshCache(ctx context.Context) error {
	stored, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	devices := make(map[string]Device, len(stored))
	for _, d := range stored {
		devices[d.ID] = d
	}
	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice looks up a device by unique id, falling back to the repository
// for devices written behind the registry's back.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()
	if ok {
		return &d, nil
	}

	stored, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.remember(*stored)
	return stored, nil
}

// ListDevices returns every device ordered by name, then id.
func (r *Registry) ListDevices() []Device {
	return r.list(func(Device) bool { return true })
}

// ListByGateway returns the devices reached through one Tuya device id:
// the gateway itself and its sub-devices.
func (r *Registry) ListByGateway(deviceID string) []Device {
	return r.list(func(d Device) bool { return d.DeviceID == deviceID })
}

func (r *Registry) list(keep func(Device) bool) []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Device) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// GetDeviceCount returns the number of known devices.
func (r *Registry) GetDeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// CreateDevice normalises and validates dev, then stores it. dev is
// updated in place with its derived id and timestamps.
func (r *Registry) CreateDevice(ctx context.Context, dev *Device) error {
	normalise(dev)
	if err := ValidateDevice(dev); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, dev); err != nil {
		return err
	}
	r.remember(*dev)

	r.logger.Info("device created", "id", dev.ID, "name", dev.Name, "type", dev.Type)
	return nil
}

// UpdateDevice replaces the stored definition of dev.ID, keeping its
// creation time.
func (r *Registry) UpdateDevice(ctx context.Context, dev *Device) error {
	current, err := r.GetDevice(ctx, dev.ID)
	if err != nil {
		return err
	}
	dev.CreatedAt = current.CreatedAt

	normalise(dev)
	if err := ValidateDevice(dev); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, dev); err != nil {
		return err
	}
	r.remember(*dev)

	r.logger.Info("device updated", "id", dev.ID, "name", dev.Name)
	return nil
}

// SetDeviceType stores a type found by inference or set by an operator.
func (r *Registry) SetDeviceType(ctx context.Context, id, deviceType string) error {
	if err := ValidateType(deviceType); err != nil {
		return err
	}
	if err := r.repo.UpdateType(ctx, id, deviceType); err != nil {
		return err
	}

	r.mu.Lock()
	if d, ok := r.devices[id]; ok {
		d.Type = deviceType
		r.devices[id] = d
	}
	r.mu.Unlock()

	r.logger.Info("device type stored", "id", id, "type", deviceType)
	return nil
}

func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// Seed reconciles the configured device list with the store: missing
// devices are created and changed connection details are written back.
// A seed asking for inference keeps the stored type, so an inferred type
// survives restarts. Every seed is attempted; failures are joined.
func (r *Registry) Seed(ctx context.Context, seeds []Device) error {
	var errs []error
	for _, seed := range seeds {
		normalise(&seed)
		if err := r.seedOne(ctx, seed); err != nil {
			errs = append(errs, fmt.Errorf("seeding %s: %w", seed.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) seedOne(ctx context.Context, seed Device) error {
	stored, err := r.GetDevice(ctx, seed.ID)
	if errors.Is(err, ErrDeviceNotFound) {
		return r.CreateDevice(ctx, &seed)
	}
	if err != nil {
		return err
	}

	if seed.NeedsInference() {
		seed.Type = stored.Type
	}
	if sameDefinition(seed, *stored) {
		return nil
	}
	return r.UpdateDevice(ctx, &seed)
}

// sameDefinition compares the configurable fields of two devices.
func sameDefinition(a, b Device) bool {
	a.CreatedAt, a.UpdatedAt = b.CreatedAt, b.UpdatedAt
	return a == b
}
