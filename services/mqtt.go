package services

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"agrisense/config"
	"agrisense/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ConnState is the ingestion coordinator's connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateSubscribed   ConnState = "subscribed"
	StateReceiving    ConnState = "receiving"
	StateIdle         ConnState = "idle"
	StateUnavailable  ConnState = "unavailable" // terminal: broker gone and not provisionable
	StateAuthFailed   ConnState = "auth_failed" // terminal: credentials refused
)

// Disconnects inside this window drive the stability indicator.
const stabilityWindow = 10 * time.Minute

// IngestService owns the long-lived MQTT subscription and feeds every
// inbound report through the normalizer into storage. Messages are
// processed sequentially so per-device reading order is preserved.
type IngestService struct {
	cfg     *config.Config
	storage *StorageService
	logger  *zap.Logger

	client mqtt.Client

	mu          sync.Mutex
	state       ConnState
	disconnects []time.Time

	inflight sync.WaitGroup

	// onReading, when set, observes every accepted reading (alerting,
	// silence monitoring). Runs on the ingestion goroutine.
	onReading func(deviceID, timestamp string, r *models.NormalizedReading)

	// fatal receives storage-engine-wide failures; main treats them as
	// process-fatal per the propagation policy.
	fatal chan error
}

func NewIngestService(cfg *config.Config, storage *StorageService, logger *zap.Logger) *IngestService {
	return &IngestService{
		cfg:     cfg,
		storage: storage,
		logger:  logger,
		state:   StateDisconnected,
		fatal:   make(chan error, 1),
	}
}

// OnReading registers an observer invoked after each stored reading.
func (is *IngestService) OnReading(fn func(deviceID, timestamp string, r *models.NormalizedReading)) {
	is.onReading = fn
}

// Fatal exposes the channel carrying store-wide failures.
func (is *IngestService) Fatal() <-chan error {
	return is.fatal
}

func (is *IngestService) setState(s ConnState) {
	is.mu.Lock()
	is.state = s
	is.mu.Unlock()
}

// State returns the coordinator's current connection state.
func (is *IngestService) State() ConnState {
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.state
}

// Start connects to the broker and subscribes to the device report topic.
// Terminal failures (ErrBrokerUnavailable, ErrAuthFailed) are returned to
// the caller and are not retried; transient losses reconnect automatically.
func (is *IngestService) Start() error {
	is.setState(StateConnecting)

	if !is.brokerReachable() {
		is.logger.Info("MQTT broker unreachable, attempting local provisioning",
			zap.String("broker", is.cfg.BrokerAddress()))
		if err := is.provisionBroker(); err != nil {
			is.setState(StateUnavailable)
			return fmt.Errorf("%w: broker %s is not reachable and could not be started locally; "+
				"install and start mosquitto (e.g. `apt install mosquitto && systemctl start mosquitto`) "+
				"or point MQTT_BROKER_HOST at a running broker: %v",
				models.ErrBrokerUnavailable, is.cfg.BrokerAddress(), err)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", is.cfg.BrokerAddress()))
	opts.SetClientID(is.cfg.DeviceID)
	if is.cfg.MQTTUsername != "" {
		opts.SetUsername(is.cfg.MQTTUsername)
		opts.SetPassword(is.cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)

	opts.OnConnect = func(client mqtt.Client) {
		topic := is.cfg.ReportTopic()
		if token := client.Subscribe(topic, 0, is.handleMessage); token.Wait() && token.Error() != nil {
			is.logger.Error("Subscribe failed",
				zap.String("topic", topic),
				zap.Error(token.Error()))
			return
		}
		is.setState(StateSubscribed)
		is.logger.Info("Subscribed to report topic",
			zap.String("topic", topic),
			zap.String("broker", is.cfg.BrokerAddress()))
		is.recordLinkStatus(true, nil)
	}

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		is.recordDisconnect()
		is.logger.Warn("MQTT connection lost, client will reconnect", zap.Error(err))
		msg := err.Error()
		is.recordLinkStatus(false, &msg)
	}

	opts.OnReconnecting = func(client mqtt.Client, _ *mqtt.ClientOptions) {
		is.setState(StateConnecting)
	}

	is.client = mqtt.NewClient(opts)
	if token := is.client.Connect(); token.Wait() && token.Error() != nil {
		if isAuthError(token.Error()) {
			is.setState(StateAuthFailed)
			return fmt.Errorf("%w: broker refused credentials for %q; fix MQTT_USERNAME/MQTT_PASSWORD: %v",
				models.ErrAuthFailed, is.cfg.MQTTUsername, token.Error())
		}
		is.setState(StateUnavailable)
		return fmt.Errorf("%w: connect to %s: %v",
			models.ErrBrokerUnavailable, is.cfg.BrokerAddress(), token.Error())
	}
	return nil
}

// Stop drains the subscription gracefully: no new messages are accepted
// and in-flight storage writes complete before the client disconnects.
func (is *IngestService) Stop() {
	if is.client == nil {
		return
	}
	if token := is.client.Unsubscribe(is.cfg.ReportTopic()); token.Wait() && token.Error() != nil {
		is.logger.Warn("Unsubscribe failed", zap.Error(token.Error()))
	}
	is.inflight.Wait()
	is.client.Disconnect(250)
	is.setState(StateDisconnected)
	is.logger.Info("Ingestion stopped")
}

// recordDisconnect marks the link down and remembers the drop for the
// stability indicator. Drops older than the window are discarded here so
// the history stays bounded over a long, flaky uptime.
func (is *IngestService) recordDisconnect() {
	is.mu.Lock()
	defer is.mu.Unlock()

	is.state = StateDisconnected
	cutoff := time.Now().Add(-stabilityWindow)
	kept := is.disconnects[:0]
	for _, t := range is.disconnects {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	is.disconnects = append(kept, time.Now())
}

// handleMessage processes one inbound report. A malformed message is
// logged and dropped; it never terminates the subscription.
func (is *IngestService) handleMessage(client mqtt.Client, msg mqtt.Message) {
	is.inflight.Add(1)
	defer is.inflight.Done()
	is.setState(StateReceiving)
	// A connection loss mid-message must not be masked by the transition
	// back to idle.
	defer func() {
		is.mu.Lock()
		if is.state == StateReceiving {
			is.state = StateIdle
		}
		is.mu.Unlock()
	}()

	// Invalid byte sequences are replaced, not fatal.
	payload := strings.ToValidUTF8(string(msg.Payload()), "�")

	reading, err := Normalize([]byte(payload))
	if err != nil {
		is.logger.Warn("Dropping malformed report",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}

	deviceID := deviceIDFromTopic(msg.Topic())
	if deviceID == "" {
		deviceID = is.cfg.DeviceID
	}

	id, err := is.storage.InsertReading(deviceID, reading)
	if err != nil {
		is.logger.Error("Failed to store reading",
			zap.String("device_id", deviceID),
			zap.Error(err))
		if pingErr := is.storage.Ping(); pingErr != nil {
			// The store itself is gone; that is fatal to the process.
			select {
			case is.fatal <- fmt.Errorf("%w: store unreachable: %v", models.ErrStorage, pingErr):
			default:
			}
		}
		return
	}

	is.logger.Debug("Reading stored",
		zap.Int64("data_id", id),
		zap.String("device_id", deviceID))

	if is.onReading != nil {
		is.onReading(deviceID, time.Now().Format(models.TimeLayout), reading)
	}
}

// ConnectionStatus reports channel health for the query API. Stability is
// derived from how often the link dropped recently.
func (is *IngestService) ConnectionStatus() models.ConnectionStatus {
	connected := is.client != nil && is.client.IsConnectionOpen()

	is.mu.Lock()
	cutoff := time.Now().Add(-stabilityWindow)
	recent := 0
	for _, t := range is.disconnects {
		if t.After(cutoff) {
			recent++
		}
	}
	state := is.state
	is.mu.Unlock()

	stability := "stable"
	switch {
	case state == StateUnavailable || state == StateAuthFailed:
		stability = "down"
	case recent > 2:
		stability = "unstable"
	case recent > 0:
		stability = "degraded"
	}
	return models.ConnectionStatus{Connected: connected, Stability: stability}
}

// brokerReachable probes the broker's TCP port.
func (is *IngestService) brokerReachable() bool {
	conn, err := net.DialTimeout("tcp", is.cfg.BrokerAddress(), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// provisionBroker tries to start a local mosquitto daemon and waits for it
// to come up. Only attempted when the configured broker is loopback-local.
func (is *IngestService) provisionBroker() error {
	if err := exec.Command("mosquitto", "-d").Start(); err != nil {
		return fmt.Errorf("launch mosquitto: %w", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if is.brokerReachable() {
			is.logger.Info("Local MQTT broker started")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("mosquitto did not come up within 3s")
}

// recordLinkStatus writes a device_status snapshot for connection-health
// transitions of the subscribed device identity.
func (is *IngestService) recordLinkStatus(online bool, lastError *string) {
	// Status rows reference the devices table; the first transition can
	// happen before any reading has registered the device.
	if err := is.storage.RegisterOrTouchDevice(is.cfg.DeviceID, nil); err != nil {
		is.logger.Warn("Failed to register device for link status", zap.Error(err))
		return
	}
	st := &models.DeviceStatus{
		DeviceID:  is.cfg.DeviceID,
		LastError: lastError,
		IsOnline:  online,
	}
	if err := is.storage.InsertDeviceStatus(st); err != nil {
		is.logger.Warn("Failed to record link status", zap.Error(err))
	}
}

// deviceIDFromTopic extracts the device id from
// "$oc/devices/<device_id>/sys/properties/report".
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "$oc" && parts[1] == "devices" {
		return parts[2]
	}
	return ""
}

// isAuthError distinguishes refused credentials from transient network
// failure. Paho surfaces the CONNACK refusal reason in the error text.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "bad user name or password") ||
		strings.Contains(msg, "bad username or password")
}
