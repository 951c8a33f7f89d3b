// Package mqtt is the broker connection of the Tuya service.
//
// Three parties share the bus:
//
//	Gray Logic Core <-> broker <-> tuya bridge <-> broker <-> tuyad (codec daemon)
//
// The bridge publishes device state retained under graylogic/state/tuya/{id}
// and consumes commands and requests; the relay forwards encrypted frames to
// tuyad and reads its responses. Topics builds every topic name so the
// scheme lives in one place.
//
// The client reconnects on its own, replays subscriptions after each
// reconnect, and leaves a retained will on graylogic/system/status so
// consumers notice a crash. Use TLS (mqtt.broker.tls) outside a lab.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishJSON(mqtt.Topics{}.BridgeState("tuya", id), state, true)
package mqtt
