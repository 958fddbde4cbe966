// Package actuator turns automation actions into requests on the MQTT bus.
//
// The executor calls the actuator while holding a run's lock, so every
// method here returns immediately: requests are placed on a bounded queue
// and a single worker publishes them in order. A full queue rejects the
// request rather than blocking the run.
//
// Notifications are additionally rate limited so a misconfigured
// automation firing every cycle cannot flood the user.
//
//	act := actuator.New(mqttClient, actuator.Config{QueueSize: 256, NotifyPerMinute: 6, NotifyBurst: 3})
//	act.SetLogger(logger.Component("actuator"))
//	act.Start()
//	defer act.Stop()
//	executor := automation.NewExecutor(act, logger)
package actuator
