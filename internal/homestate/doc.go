// Package homestate keeps the latest known state of the home and produces
// the per-cycle EvalContext snapshots automations are evaluated against.
//
// State arrives over MQTT:
//
//	graylogic/core/device/{id}/state  {"device_id":"...","state":{"on":true,"temperature":21.5}}
//	graylogic/home/location           {"latitude":51.5,"longitude":-0.12}
//	graylogic/home/weather            {"condition":"Light Rain"}
//	graylogic/home/occupancy          {"occupied":true}
//
// Snapshot copies everything it returns, so an EvalContext never changes
// underneath a running evaluation and can be discarded after the cycle.
package homestate
