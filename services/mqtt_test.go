package services

import (
	"errors"
	"testing"
	"time"

	"agrisense/models"

	"go.uber.org/zap"
)

func TestDeviceIDFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{"$oc/devices/SmartAgriculture_thermometer/sys/properties/report", "SmartAgriculture_thermometer"},
		{"$oc/devices/dev-42/sys/properties/report", "dev-42"},
		{"$oc/devices/x", "x"},
		{"sensor_data_queue", ""},
		{"devices/dev-1/report", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := deviceIDFromTopic(tc.topic); got != tc.want {
			t.Errorf("deviceIDFromTopic(%q) = %q, want %q", tc.topic, got, tc.want)
		}
	}
}

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("not Authorized"), true},
		{errors.New("bad user name or password"), true},
		{errors.New("Bad username or password"), true},
		{errors.New("connection refused"), false},
		{errors.New("network timeout"), false},
	}

	for _, tc := range cases {
		if got := isAuthError(tc.err); got != tc.want {
			t.Errorf("isAuthError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// fakeMessage satisfies paho's Message interface for driving the handler
// without a broker.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

const testReportTopic = "$oc/devices/dev-1/sys/properties/report"

func countReadings(t *testing.T, s *StorageService, deviceID string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sensor_data WHERE device_id = ?", deviceID).Scan(&n); err != nil {
		t.Fatalf("count readings: %v", err)
	}
	return n
}

func TestHandleMessageDropsMalformedAndKeepsGoing(t *testing.T) {
	s := newTestStorage(t)
	is := NewIngestService(testThresholds(), s, zap.NewNop())

	// A malformed message is dropped without writing anything.
	is.handleMessage(nil, &fakeMessage{topic: testReportTopic, payload: []byte(`{{{`)})
	if n := countReadings(t, s, "dev-1"); n != 0 {
		t.Fatalf("malformed message must not be stored, got %d rows", n)
	}

	// The subscription survives: the next valid message still inserts.
	is.handleMessage(nil, &fakeMessage{
		topic:   testReportTopic,
		payload: []byte(`{"services":[{"properties":{"temperature":21.5}}]}`),
	})
	if n := countReadings(t, s, "dev-1"); n != 1 {
		t.Fatalf("valid message after a malformed one must be stored, got %d rows", n)
	}

	if got := is.State(); got != StateIdle {
		t.Errorf("handler must leave state idle, got %s", got)
	}
}

func TestHandleMessageSanitizesInvalidUTF8(t *testing.T) {
	s := newTestStorage(t)
	is := NewIngestService(testThresholds(), s, zap.NewNop())

	payload := []byte(`{"services":[{"properties":{"temperature":21}}],"note":"` + "\xff" + `"}`)
	is.handleMessage(nil, &fakeMessage{topic: testReportTopic, payload: payload})

	rows, err := s.LatestReadings("dev-1", 1)
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("sanitized message must be stored, got %d rows", len(rows))
	}
	if rows[0].Temperature == nil || *rows[0].Temperature != 21 {
		t.Errorf("unexpected reading: %+v", rows[0])
	}
}

func TestHandleMessageDoesNotMaskDisconnect(t *testing.T) {
	s := newTestStorage(t)
	is := NewIngestService(testThresholds(), s, zap.NewNop())

	// Simulate the connection dropping while the message is in flight.
	is.OnReading(func(deviceID, timestamp string, r *models.NormalizedReading) {
		is.recordDisconnect()
	})

	is.handleMessage(nil, &fakeMessage{
		topic:   testReportTopic,
		payload: []byte(`{"services":[{"properties":{"temperature":20}}]}`),
	})

	if got := is.State(); got != StateDisconnected {
		t.Errorf("idle transition must not mask a disconnect, got %s", got)
	}
}

func TestRecordDisconnectPrunesOldEntries(t *testing.T) {
	is := NewIngestService(testThresholds(), nil, zap.NewNop())

	is.mu.Lock()
	is.disconnects = []time.Time{
		time.Now().Add(-2 * stabilityWindow),
		time.Now().Add(-stabilityWindow - time.Minute),
		time.Now().Add(-time.Minute),
	}
	is.mu.Unlock()

	is.recordDisconnect()

	is.mu.Lock()
	kept := len(is.disconnects)
	is.mu.Unlock()
	if kept != 2 {
		t.Errorf("entries beyond the stability window must be pruned, got %d kept", kept)
	}
}

func TestConnectionStatusStability(t *testing.T) {
	is := NewIngestService(testThresholds(), nil, zap.NewNop())

	status := is.ConnectionStatus()
	if status.Connected {
		t.Error("never-started service must report disconnected")
	}
	if status.Stability != "stable" {
		t.Errorf("no recent disconnects means stable, got %q", status.Stability)
	}

	is.mu.Lock()
	is.disconnects = append(is.disconnects, time.Now())
	is.mu.Unlock()
	if got := is.ConnectionStatus().Stability; got != "degraded" {
		t.Errorf("one recent disconnect means degraded, got %q", got)
	}

	is.mu.Lock()
	is.disconnects = append(is.disconnects, time.Now(), time.Now())
	is.mu.Unlock()
	if got := is.ConnectionStatus().Stability; got != "unstable" {
		t.Errorf("three recent disconnects means unstable, got %q", got)
	}

	is.setState(StateAuthFailed)
	if got := is.ConnectionStatus().Stability; got != "down" {
		t.Errorf("terminal state means down, got %q", got)
	}
}
