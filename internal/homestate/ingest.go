package homestate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/mqtt"
)

// Subscriber is the subset of *mqtt.Client the store needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// StateMessage is a canonical device state report.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
}

// LocationMessage is a user position report. Null coordinates clear the
// location.
type LocationMessage struct {
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// WeatherMessage is a weather report.
type WeatherMessage struct {
	Condition string    `json:"condition"`
	Timestamp time.Time `json:"timestamp"`
}

// OccupancyMessage is an occupancy report.
type OccupancyMessage struct {
	Occupied  bool      `json:"occupied"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscribe registers the store's handlers for device state and home
// context topics.
func (s *Store) Subscribe(sub Subscriber, qos byte) error {
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllCoreDeviceStates(), qos, s.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to device state: %w", err)
	}
	if err := sub.Subscribe(topics.AllHome(), qos, s.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to home context: %w", err)
	}
	return nil
}

// HandleMessage applies one MQTT message. It matches mqtt.MessageHandler.
func (s *Store) HandleMessage(topic string, payload []byte) error {
	topics := mqtt.Topics{}
	switch topic {
	case topics.HomeLocation():
		return s.applyLocation(payload)
	case topics.HomeWeather():
		return s.applyWeather(payload)
	case topics.HomeOccupancy():
		return s.applyOccupancy(payload)
	}

	if id, ok := mqtt.DeviceIDFromState(topic); ok {
		return s.applyDeviceState(id, payload)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func (s *Store) applyDeviceState(topicID string, payload []byte) error {
	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: device %s: %w", ErrInvalidPayload, topicID, err)
	}
	// The topic is authoritative; a mismatched body is a bridge bug.
	if msg.DeviceID != "" && msg.DeviceID != topicID {
		return fmt.Errorf("%w: device_id %q does not match topic %q", ErrInvalidPayload, msg.DeviceID, topicID)
	}
	if msg.State == nil {
		return fmt.Errorf("%w: device %s: missing state", ErrInvalidPayload, topicID)
	}
	s.SetDeviceState(topicID, msg.State, stamp(msg.Timestamp))
	return nil
}

func (s *Store) applyLocation(payload []byte) error {
	var msg LocationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: location: %w", ErrInvalidPayload, err)
	}
	at := stamp(msg.Timestamp)
	switch {
	case msg.Latitude == nil && msg.Longitude == nil:
		s.ClearLocation(at)
	case msg.Latitude == nil || msg.Longitude == nil:
		return fmt.Errorf("%w: location needs both latitude and longitude", ErrInvalidPayload)
	case *msg.Latitude < -90 || *msg.Latitude > 90 || *msg.Longitude < -180 || *msg.Longitude > 180:
		return fmt.Errorf("%w: location out of range", ErrInvalidPayload)
	default:
		s.SetLocation(automation.Coordinate{Latitude: *msg.Latitude, Longitude: *msg.Longitude}, at)
	}
	return nil
}

func (s *Store) applyWeather(payload []byte) error {
	var msg WeatherMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: weather: %w", ErrInvalidPayload, err)
	}
	s.SetWeather(msg.Condition, stamp(msg.Timestamp))
	return nil
}

func (s *Store) applyOccupancy(payload []byte) error {
	var msg OccupancyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: occupancy: %w", ErrInvalidPayload, err)
	}
	s.SetOccupied(msg.Occupied, stamp(msg.Timestamp))
	return nil
}

// stamp falls back to the receive time for reports without a timestamp.
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
