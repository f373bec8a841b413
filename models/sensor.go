package models

// TimeLayout is the canonical storage format for reading timestamps
// (naive local time, matching the SQLite schema defaults).
const TimeLayout = "2006-01-02 15:04:05"

// Device represents a registered sensor device
type Device struct {
	DeviceID   string  `json:"device_id"`
	DeviceName *string `json:"device_name"`
	DeviceType *string `json:"device_type"`
	ClientID   *string `json:"client_id"`
	Username   *string `json:"username"`
	ServiceID  *string `json:"service_id"`
	Location   *string `json:"location"`
	CreatedAt  string  `json:"created_at"`
	LastSeen   *string `json:"last_seen"`
	IsActive   bool    `json:"is_active"`

	// Aggregates filled by device listings only
	DataCount      int64   `json:"data_count"`
	LatestDataTime *string `json:"latest_data_time"`
}

// DeviceMetadata carries the optional descriptive fields supplied when a
// device is first registered. A nil field stays NULL in the store.
type DeviceMetadata struct {
	DeviceName *string
	DeviceType *string
	ClientID   *string
	Username   *string
	ServiceID  *string
	Location   *string
}

// Reading is one stored sensor measurement set. Measurement fields are
// pointers because devices regularly report partial property sets.
type Reading struct {
	DataID              int64    `json:"data_id"`
	DeviceID            string   `json:"device_id"`
	Timestamp           string   `json:"timestamp"`
	CropAreaID          int64    `json:"crop_area_id"`
	Temperature         *float64 `json:"temperature"`
	Humidity            *float64 `json:"humidity"`
	Noise               *float64 `json:"noise"`
	PM25                *float64 `json:"pm25"`
	PM10                *float64 `json:"pm10"`
	AtmosphericPressure *float64 `json:"atmospheric_pressure"`
	LightLux            *float64 `json:"light_lux"`
	SoilTemperature     *float64 `json:"soil_temperature"`
	SoilHumidity        *float64 `json:"soil_humidity"`
	SoilConductivity    *float64 `json:"soil_conductivity"`
	RawJSON             string   `json:"raw_json"`
}

// NormalizedReading is the flat record extracted from an inbound report
// payload before it is persisted.
type NormalizedReading struct {
	CropAreaID          int64
	Temperature         *float64
	Humidity            *float64
	Noise               *float64
	PM25                *float64
	PM10                *float64
	AtmosphericPressure *float64
	LightLux            *float64
	SoilTemperature     *float64
	SoilHumidity        *float64
	SoilConductivity    *float64
	RawJSON             string
}

// DeviceStatus is a point-in-time connection-health snapshot, written on
// health events rather than on every data message.
type DeviceStatus struct {
	StatusID      int64    `json:"status_id"`
	DeviceID      string   `json:"device_id"`
	Timestamp     string   `json:"timestamp"`
	WifiStrength  *int64   `json:"wifi_strength"`
	BatteryLevel  *float64 `json:"battery_level"`
	UptimeSeconds *int64   `json:"uptime_seconds"`
	LastError     *string  `json:"last_error"`
	IsOnline      bool     `json:"is_online"`
}

// DeviceStats summarizes the stored history of one device. A device with
// zero readings yields TotalRecords 0 and nil everywhere else.
type DeviceStats struct {
	DeviceID       string   `json:"device_id"`
	TotalRecords   int64    `json:"total_records"`
	FirstRecord    *string  `json:"first_record"`
	LastRecord     *string  `json:"last_record"`
	AvgTemperature *float64 `json:"avg_temperature"`
	AvgHumidity    *float64 `json:"avg_humidity"`
	AvgNoise       *float64 `json:"avg_noise"`
	AvgPM25        *float64 `json:"avg_pm25"`
	AvgPM10        *float64 `json:"avg_pm10"`
	AvgPressure    *float64 `json:"avg_pressure"`
	AvgLight       *float64 `json:"avg_light"`
}

// SeriesPoint is one raw point of a charted history series. Points with a
// null temperature are not chart-worthy and never appear in a series.
type SeriesPoint struct {
	Timestamp   string   `json:"timestamp"`
	Temperature float64  `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// HistorySeries is the result of a windowed history query. NoData is set
// when the device has no stored readings at all.
type HistorySeries struct {
	Points []SeriesPoint `json:"points"`
	NoData bool          `json:"no_data"`
}

// BucketPoint is one epoch-aligned aggregation bucket.
type BucketPoint struct {
	BucketStart    string   `json:"timestamp"`
	AvgTemperature *float64 `json:"temperature"`
	AvgHumidity    *float64 `json:"humidity"`
}

// FieldFractions holds one fraction per tracked key field plus their
// unweighted mean, used for both integrity and quality scores.
type FieldFractions struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PM25        float64 `json:"pm25"`
	Light       float64 `json:"light"`
	Overall     float64 `json:"overall"`
}

// ConnectionStatus reports ingestion channel health to the query API.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Stability string `json:"stability"`
}

// SystemCounts are the store-wide totals shown on the dashboard.
type SystemCounts struct {
	TotalDevices  int64 `json:"total_devices"`
	ActiveDevices int64 `json:"active_devices"`
	TodayReadings int64 `json:"today_readings"`
}
