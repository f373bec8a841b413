package models

// AnomalyType represents different kinds of out-of-range readings
type AnomalyType string

const (
	TemperatureTooHigh AnomalyType = "temperature_high"
	TemperatureTooLow  AnomalyType = "temperature_low"
	HumidityTooHigh    AnomalyType = "humidity_high"
	HumidityTooLow     AnomalyType = "humidity_low"
	PM25TooHigh        AnomalyType = "pm25_high"
	LightTooHigh       AnomalyType = "light_high"
)

// Anomaly represents a reading value outside its configured range
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	Value       float64     `json:"value"`
	Threshold   float64     `json:"threshold"`
	DeviceID    string      `json:"device_id"`
	Timestamp   string      `json:"timestamp"`
	Description string      `json:"description"`
}

// Severity classifies an anomaly for alert routing
func (a *Anomaly) Severity() string {
	switch a.Type {
	case PM25TooHigh:
		return "critical"
	case TemperatureTooHigh, TemperatureTooLow:
		return "high"
	default:
		return "medium"
	}
}
