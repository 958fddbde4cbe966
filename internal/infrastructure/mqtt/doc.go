// Package mqtt connects Gray Logic Rules to the Gray Logic message bus.
//
// The rule engine reads home state from the bus and writes requests to it:
//
//	graylogic/core/device/{id}/state   -> device on/off and sensor values
//	graylogic/home/{location,weather,occupancy}
//	graylogic/command/device/{id}      <- set device requests
//	graylogic/command/scene/{id}       <- scene activations
//	graylogic/notify                   <- user notifications
//	graylogic/core/event/automation_executed <- execution log entries
//
// The client reconnects automatically with backoff, restores its
// subscriptions and keeps a retained online/offline status with a last
// will for crash detection.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCoreDeviceStates(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := mqtt.DeviceIDFromState(topic)
//	        return store.ApplyDeviceState(id, payload)
//	    })
//
// TLS should be enabled (cfg.Broker.TLS) outside local development.
package mqtt
