package services

import (
	"testing"
	"time"

	"agrisense/models"

	"go.uber.org/zap"
)

func TestStatusMonitorSilenceTransition(t *testing.T) {
	s := newTestStorage(t)
	if err := s.RegisterOrTouchDevice("dev-1", nil); err != nil {
		t.Fatalf("register device: %v", err)
	}

	cfg := testThresholds()
	cfg.DeviceSilenceTimeout = 0 // any gap counts as silence
	m := NewStatusMonitor(cfg, s, nil, zap.NewNop())

	m.Touch("dev-1")

	link, ok := m.LinkState("dev-1")
	if !ok || link.State != models.LinkOnline {
		t.Fatalf("touched device must be online, got %+v", link)
	}

	// Push last_seen into the past so the sweep sees a silent device.
	m.mu.Lock()
	m.devices["dev-1"].LastSeen = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	m.checkSilentDevices()

	link, _ = m.LinkState("dev-1")
	if link.State != models.LinkSilent {
		t.Fatalf("device must transition to silent, got %s", link.State)
	}

	var count int
	var online bool
	err := s.db.QueryRow(`
		SELECT COUNT(*), MIN(is_online) FROM device_status WHERE device_id = 'dev-1'`).Scan(&count, &online)
	if err != nil {
		t.Fatalf("query status snapshots: %v", err)
	}
	if count != 1 || online {
		t.Errorf("expected one offline snapshot, got count=%d online=%v", count, online)
	}

	// Recovery flips the link back and records an online snapshot.
	m.Touch("dev-1")
	link, _ = m.LinkState("dev-1")
	if link.State != models.LinkOnline {
		t.Fatalf("recovered device must be online, got %s", link.State)
	}

	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM device_status WHERE device_id = 'dev-1'").Scan(&count); err != nil {
		t.Fatalf("query status snapshots: %v", err)
	}
	if count != 2 {
		t.Errorf("expected offline plus online snapshots, got %d", count)
	}

	// Readings and is_active are untouched by status monitoring.
	devices, err := s.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if !devices[0].IsActive {
		t.Error("silence monitoring must never flip is_active")
	}
}

func TestStatusMonitorIgnoresActiveDevices(t *testing.T) {
	s := newTestStorage(t)
	if err := s.RegisterOrTouchDevice("dev-1", nil); err != nil {
		t.Fatalf("register device: %v", err)
	}

	cfg := testThresholds()
	cfg.DeviceSilenceTimeout = 3600
	m := NewStatusMonitor(cfg, s, nil, zap.NewNop())

	m.Touch("dev-1")
	m.checkSilentDevices()

	link, _ := m.LinkState("dev-1")
	if link.State != models.LinkOnline {
		t.Errorf("device within timeout must stay online, got %s", link.State)
	}
}
