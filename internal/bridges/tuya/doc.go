// Package tuya implements the Tuya bridge for Gray Logic.
//
// The bridge owns one device session per configured Tuya device and exposes
// them on the MQTT bus. Device frames are built and decrypted by an external
// codec daemon reached through a request/response relay on the same broker.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌──────────────┐
//	│   Gray Logic    │   MQTT   │   Tuya Bridge   │   MQTT   │ Codec daemon │   LAN
//	│      Core       │◄────────►│   (this pkg)    │◄────────►│   (relay)    │◄─────► Devices
//	└─────────────────┘          └─────────────────┘          └──────────────┘
//
// # Key Responsibilities
//
//   - Open a session per device and resolve its profile, inferring the
//     device type from reported state when configured as "auto"
//   - Translate MQTT commands into debounced data point writes
//   - Answer read_state, refresh and infer_type requests
//   - Poll devices and publish changed state, retained, per device
//   - Publish bridge health
//
// # Topics
//
//	graylogic/command/tuya/{device_id}   commands in
//	graylogic/ack/tuya/{device_id}       command acknowledgements
//	graylogic/request/tuya/{request_id}  requests in
//	graylogic/response/tuya/{request_id} request responses
//	graylogic/state/tuya/{device_id}     device state (retained)
//	graylogic/health/tuya                bridge health (retained)
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package tuya
