// Package device provides the device store for the Tuya bridge.
//
// A Device is the persisted description of one Tuya device or gateway
// sub-device: how to reach it (device id, cid, host, local key) and which
// profile describes it (Type). Live state is not stored here; it belongs to
// the tuya.Session opened for the device. The state_history table keeps an
// audit trail of observed and written state.
//
// # Architecture
//
//	┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐
//	│     Registry     │    │    Repository    │    │    Validation    │
//	│   (registry.go)  │───▶│  (repository.go) │    │ (validation.go)  │
//	│                  │    │                  │    │                  │
//	│ • CRUD ops       │    │ • SQLite queries │    │ • Id checks      │
//	│ • In-memory cache│    │ • Unique id key  │    │ • Host checks    │
//	│ • Config seeding │    │ • Type updates   │    │ • Type checks    │
//	└──────────────────┘    └──────────────────┘    └──────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Configured devices are seeded on every start. A stored inferred type
//	// wins over "auto" in the config.
//	if err := registry.Seed(ctx, configured); err != nil {
//	    return err
//	}
//
//	dev, err := registry.GetDevice(ctx, "bf0123456789abcdef")
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The Repository implementation
// must also be thread-safe.
package device
