package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes on the Gray Logic bus.
const (
	// TopicPrefix is the root of every Gray Logic topic.
	TopicPrefix = "graylogic"

	// TopicPrefixCore is where Core publishes canonical device state and events.
	TopicPrefixCore = "graylogic/core"

	// TopicPrefixHome carries whole-home context: user location, weather
	// and occupancy.
	TopicPrefixHome = "graylogic/home"
)

// Topics provides builders for the topics the rule engine reads and writes.
//
//	cmd := mqtt.Topics{}.DeviceCommand("light-living-main")
//	// Returns: "graylogic/command/device/light-living-main"
type Topics struct{}

// DeviceCommand is where a device on/off request is published.
//
// Example: graylogic/command/device/light-living-main
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/device/%s", TopicPrefix, deviceID)
}

// SceneCommand is where a scene activation request is published.
//
// Example: graylogic/command/scene/good-morning
func (Topics) SceneCommand(sceneID string) string {
	return fmt.Sprintf("%s/command/scene/%s", TopicPrefix, sceneID)
}

// Notify is where user notifications are published for delivery.
//
// Example: graylogic/notify
func (Topics) Notify() string {
	return TopicPrefix + "/notify"
}

// CoreDeviceState is the canonical state topic for a device.
//
// Example: graylogic/core/device/thermostat-hall/state
func (Topics) CoreDeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixCore, deviceID)
}

// CoreEvent is the topic for an event type.
//
// Example: graylogic/core/event/automation_executed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// HomeLocation carries the user's reported position.
//
// Example: graylogic/home/location
func (Topics) HomeLocation() string {
	return TopicPrefixHome + "/location"
}

// HomeWeather carries the current weather description.
//
// Example: graylogic/home/weather
func (Topics) HomeWeather() string {
	return TopicPrefixHome + "/weather"
}

// HomeOccupancy carries whether anyone is home.
//
// Example: graylogic/home/occupancy
func (Topics) HomeOccupancy() string {
	return TopicPrefixHome + "/occupancy"
}

// ServiceStatus is the retained online/offline topic for this service.
//
// Example: graylogic/system/status/graylogic-rules
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/system/status/%s", TopicPrefix, clientID)
}

// AllCoreDeviceStates matches every canonical device state.
//
// Pattern: graylogic/core/device/+/state
func (Topics) AllCoreDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefixCore)
}

// AllHome matches every whole-home context topic.
//
// Pattern: graylogic/home/+
func (Topics) AllHome() string {
	return TopicPrefixHome + "/+"
}

// DeviceIDFromState extracts the device ID from a canonical state topic.
// It reports false for any other topic.
func DeviceIDFromState(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixCore+"/device/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/state")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
