package services

import (
	"context"
	"sync"
	"time"

	"agrisense/config"
	"agrisense/models"

	"go.uber.org/zap"
)

// StatusMonitor watches how recently each device delivered a message and
// writes device_status snapshots on online/silent transitions. It records
// health events only; it never touches the readings table and never flips
// a device's is_active flag.
type StatusMonitor struct {
	config   *config.Config
	storage  *StorageService
	telegram *TelegramService // optional, nil when alerting is disabled
	logger   *zap.Logger
	devices  map[string]*models.DeviceLink
	mu       sync.RWMutex
}

func NewStatusMonitor(cfg *config.Config, storage *StorageService, telegram *TelegramService, logger *zap.Logger) *StatusMonitor {
	return &StatusMonitor{
		config:   cfg,
		storage:  storage,
		telegram: telegram,
		logger:   logger,
		devices:  make(map[string]*models.DeviceLink),
	}
}

// Start begins the silence monitoring loop. Returns when ctx is done.
func (m *StatusMonitor) Start(ctx context.Context) {
	m.logger.Info("Starting device status monitor",
		zap.Int("silence_timeout_seconds", m.config.DeviceSilenceTimeout))

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Device status monitor stopped")
			return
		case <-ticker.C:
			m.checkSilentDevices()
		}
	}
}

// Touch records that a device just delivered a message. A device returning
// from silence gets an online snapshot and an optional recovery alert.
func (m *StatusMonitor) Touch(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	link, exists := m.devices[deviceID]
	if !exists {
		link = &models.DeviceLink{
			DeviceID: deviceID,
			State:    models.LinkOnline,
		}
		m.devices[deviceID] = link
		m.logger.Info("New device registered for status monitoring",
			zap.String("device_id", deviceID))
	}

	wasSilent := link.State == models.LinkSilent
	link.LastSeen = now
	link.State = models.LinkOnline

	if wasSilent {
		downDuration := now.Sub(link.SilentAt)
		m.logger.Info("Device recovered from silence",
			zap.String("device_id", deviceID),
			zap.Duration("down_duration", downDuration))

		m.recordSnapshot(deviceID, true, nil)

		if m.telegram != nil {
			if err := m.telegram.SendRecoveryAlert(deviceID, downDuration); err != nil {
				m.logger.Error("Failed to send recovery alert",
					zap.String("device_id", deviceID),
					zap.Error(err))
			}
		}
	}
}

// checkSilentDevices scans all tracked devices for silence transitions.
func (m *StatusMonitor) checkSilentDevices() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	timeout := time.Duration(m.config.DeviceSilenceTimeout) * time.Second

	for deviceID, link := range m.devices {
		if link.State == models.LinkSilent {
			continue
		}

		silentFor := now.Sub(link.LastSeen)
		if silentFor > timeout {
			m.logger.Warn("Device went silent",
				zap.String("device_id", deviceID),
				zap.Time("last_seen", link.LastSeen),
				zap.Duration("silent_for", silentFor))

			link.State = models.LinkSilent
			link.SilentAt = now

			errMsg := "no messages within silence timeout"
			m.recordSnapshot(deviceID, false, &errMsg)

			if m.telegram != nil {
				if err := m.telegram.SendSilenceAlert(deviceID, link.LastSeen, silentFor); err != nil {
					m.logger.Error("Failed to send silence alert",
						zap.String("device_id", deviceID),
						zap.Error(err))
				}
			}
		}
	}
}

func (m *StatusMonitor) recordSnapshot(deviceID string, online bool, lastError *string) {
	st := &models.DeviceStatus{
		DeviceID:  deviceID,
		LastError: lastError,
		IsOnline:  online,
	}
	if err := m.storage.InsertDeviceStatus(st); err != nil {
		m.logger.Error("Failed to record device status snapshot",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
}

// LinkState returns the current link state of a device (for testing/debugging)
func (m *StatusMonitor) LinkState(deviceID string) (*models.DeviceLink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.devices[deviceID]
	return link, exists
}
