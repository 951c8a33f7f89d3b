// Package tuya manages sessions with Tuya local-protocol devices.
//
// A Session keeps a resilient connection to one device (or one child of a
// gateway) and owns its state:
//
//   - Cached state: the last refreshed data point map plus an updated_at
//     timestamp.
//   - Pending updates: optimistic writes that overlay cached state for a
//     short window until the device reports them.
//
// Reads resolve pending first, then cached. Writes are coalesced by a
// debounce timer into a single control frame. Every transport call goes
// through one retry controller that also rotates the protocol version until
// the device accepts a frame, because devices offer no version handshake.
//
// Wire framing and encryption live behind the Transport interface.
//
// Example:
//
//	reg, _ := tuya.NewRegistry(tuya.RegistryOptions{Opener: relay, Workers: 4})
//	sess, err := reg.Setup(ctx, tuya.Identity{DeviceID: id, Address: host, LocalKey: key})
//	if err != nil {
//	    return err
//	}
//	sess.WriteMany(map[string]any{"1": true})
//	v, ok := sess.Read("1") // true, via the pending overlay
package tuya
