package homestate

import (
	"maps"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
)

// Store holds the current home state.
//
// Thread Safety: all methods are safe for concurrent use. Change
// listeners run on the goroutine that applied the update, after the
// store's lock is released.
type Store struct {
	mu        sync.RWMutex
	home      automation.Coordinate
	location  *automation.Coordinate
	previous  *automation.Coordinate
	sensors   map[string]map[string]any
	devices   map[string]bool
	weather   *string
	occupied  bool
	updatedAt time.Time

	listenerMu sync.RWMutex
	listeners  []func(Change)
}

// ChangeKind names the part of the state an update touched.
type ChangeKind string

// Change kinds.
const (
	ChangeDevice    ChangeKind = "device"
	ChangeLocation  ChangeKind = "location"
	ChangeWeather   ChangeKind = "weather"
	ChangeOccupancy ChangeKind = "occupancy"
)

// Change describes one applied update.
type Change struct {
	Kind ChangeKind
	// Key is the device ID for device changes, empty otherwise.
	Key string
}

// NewStore creates an empty store measuring geofences from home.
func NewStore(home automation.Coordinate) *Store {
	return &Store{
		home:    home,
		sensors: make(map[string]map[string]any),
		devices: make(map[string]bool),
	}
}

// OnChange registers fn to be called after every applied update.
func (s *Store) OnChange(fn func(Change)) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

// Snapshot returns an EvalContext for an evaluation at now.
func (s *Store) Snapshot(now time.Time) *automation.EvalContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sensors := make(map[string]map[string]any, len(s.sensors))
	for id, chars := range s.sensors {
		sensors[id] = maps.Clone(chars)
	}

	ctx := &automation.EvalContext{
		Now:      now,
		Home:     s.home,
		Sensors:  sensors,
		Devices:  maps.Clone(s.devices),
		Occupied: s.occupied,
	}
	if s.location != nil {
		loc := *s.location
		ctx.Location = &loc
	}
	if s.previous != nil {
		prev := *s.previous
		ctx.PreviousLocation = &prev
	}
	if s.weather != nil {
		w := *s.weather
		ctx.Weather = &w
	}
	return ctx
}

// UpdatedAt returns when the store last applied an update.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// SetLocation records a new user position. The position it replaces
// becomes the previous location, which geofence Enter and Exit triggers
// compare against. Non-finite coordinates are ignored.
func (s *Store) SetLocation(c automation.Coordinate, at time.Time) {
	if !finite(c.Latitude) || !finite(c.Longitude) {
		return
	}
	s.mu.Lock()
	s.previous = s.location
	s.location = &c
	s.touch(at)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeLocation})
}

// ClearLocation forgets the user position, as when location sharing stops.
func (s *Store) ClearLocation(at time.Time) {
	s.mu.Lock()
	s.previous = s.location
	s.location = nil
	s.touch(at)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeLocation})
}

// SetDeviceState merges a device state report. An "on" boolean updates the
// device's power state; every key is also kept as a sensor
// characteristic.
func (s *Store) SetDeviceState(deviceID string, state map[string]any, at time.Time) {
	s.mu.Lock()
	chars := s.sensors[deviceID]
	if chars == nil {
		chars = make(map[string]any, len(state))
		s.sensors[deviceID] = chars
	}
	for k, v := range state {
		chars[k] = v
	}
	if on, ok := state["on"].(bool); ok {
		s.devices[deviceID] = on
	}
	s.touch(at)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeDevice, Key: deviceID})
}

// SetWeather records the current weather description. An empty string
// marks the weather as unknown.
func (s *Store) SetWeather(condition string, at time.Time) {
	s.mu.Lock()
	if condition == "" {
		s.weather = nil
	} else {
		s.weather = &condition
	}
	s.touch(at)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeWeather})
}

// SetOccupied records whether anyone is home.
func (s *Store) SetOccupied(occupied bool, at time.Time) {
	s.mu.Lock()
	s.occupied = occupied
	s.touch(at)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeOccupancy})
}

// touch must be called with s.mu held.
func (s *Store) touch(at time.Time) {
	if at.After(s.updatedAt) {
		s.updatedAt = at
	}
}

func (s *Store) notify(c Change) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
