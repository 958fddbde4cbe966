package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration. Only the integration
// tests need a broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-rules-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *mockLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

// disconnectedClient is a Client that never reached the broker.
func disconnectedClient() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"DeviceCommand", Topics{}.DeviceCommand("light-living"), "graylogic/command/device/light-living"},
		{"SceneCommand", Topics{}.SceneCommand("good-morning"), "graylogic/command/scene/good-morning"},
		{"Notify", Topics{}.Notify(), "graylogic/notify"},
		{"CoreDeviceState", Topics{}.CoreDeviceState("thermo"), "graylogic/core/device/thermo/state"},
		{"CoreEvent", Topics{}.CoreEvent("automation_executed"), "graylogic/core/event/automation_executed"},
		{"HomeLocation", Topics{}.HomeLocation(), "graylogic/home/location"},
		{"HomeWeather", Topics{}.HomeWeather(), "graylogic/home/weather"},
		{"HomeOccupancy", Topics{}.HomeOccupancy(), "graylogic/home/occupancy"},
		{"ServiceStatus", Topics{}.ServiceStatus("graylogic-rules"), "graylogic/system/status/graylogic-rules"},
		{"AllCoreDeviceStates", Topics{}.AllCoreDeviceStates(), "graylogic/core/device/+/state"},
		{"AllHome", Topics{}.AllHome(), "graylogic/home/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestDeviceIDFromState(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"graylogic/core/device/thermo/state", "thermo", true},
		{"graylogic/core/device//state", "", false},
		{"graylogic/core/device/a/b/state", "", false},
		{"graylogic/core/device/thermo", "", false},
		{"graylogic/home/weather", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := DeviceIDFromState(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("DeviceIDFromState(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "rules", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "graylogic-rules-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "rules" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS 1.2 minimum")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graylogic-rules")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("expected a retained last will")
	}
	if opts.WillTopic != "graylogic/system/status/graylogic-rules" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var status statusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.Status != statusOffline || status.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var status map[string]any
	if err := json.Unmarshal(buildStatusPayload("c1", statusOnline, ""), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if status["status"] != "online" || status["client_id"] != "c1" {
		t.Errorf("payload = %v", status)
	}
	if _, ok := status["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"valid", "graylogic/notify", []byte("{}"), 1, nil},
		{"nil payload", "graylogic/notify", nil, 0, nil},
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"invalid qos", "graylogic/notify", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized", "graylogic/notify", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if tt.want == nil && err != nil {
				t.Errorf("validatePublish() error = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if c.IsConnected() {
		t.Fatal("IsConnected() = true for a client that never connected")
	}
	if err := c.Publish("graylogic/notify", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("graylogic/notify", map[string]string{"message": "hi"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("graylogic/home/+", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("x", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe("graylogic/home/+"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("graylogic/home/+") {
		t.Error("failed subscriptions must not be tracked")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPublishJSON_EncodingError(t *testing.T) {
	c := disconnectedClient()
	err := c.PublishJSON("graylogic/notify", func() {})
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(func) error = %v, want ErrPublishFailed", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := disconnectedClient().HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestDispatch(t *testing.T) {
	c := disconnectedClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	var got string
	c.dispatch(func(_ string, p []byte) error { got = string(p); return nil }, "t", []byte("ok"))

	if len(logger.warns) != 1 || !strings.Contains(logger.warns[0], "error") {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one recovered panic", logger.errors)
	}
	if got != "ok" {
		t.Errorf("handler payload = %q, want ok", got)
	}

	c.SetLogger(nil)
	c.dispatch(func(string, []byte) error { panic("silent") }, "t", nil)
}

func TestHandleDisconnectCallback(t *testing.T) {
	c := disconnectedClient()
	c.connected = true
	logger := &mockLogger{}
	c.SetLogger(logger)

	var gotErr error
	c.SetOnDisconnect(func(err error) { gotErr = err })

	lost := errors.New("network down")
	c.handleDisconnect(lost)

	if !errors.Is(gotErr, lost) {
		t.Errorf("callback error = %v, want %v", gotErr, lost)
	}
	if c.connected {
		t.Error("connected should be false after disconnect")
	}
	if len(logger.warns) != 1 {
		t.Errorf("expected the lost connection to be logged, got %v", logger.warns)
	}
}
