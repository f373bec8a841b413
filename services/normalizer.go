package services

import (
	"encoding/json"
	"fmt"
	"strconv"

	"agrisense/models"
)

// propertyShape tags how the "services" element of a report payload was
// laid out. Firmware versions disagree: some publish a sequence of service
// objects, some a single object, some nothing at all. The shape is
// resolved exactly once, here, so nothing downstream branches on it.
type propertyShape int

const (
	shapeAbsent propertyShape = iota
	shapeSingle
	shapeSequence
)

// resolveProperties extracts the properties mapping from a decoded payload
// and reports which shape it arrived in.
func resolveProperties(doc map[string]interface{}) (map[string]interface{}, propertyShape) {
	switch services := doc["services"].(type) {
	case []interface{}:
		if len(services) == 0 {
			return map[string]interface{}{}, shapeAbsent
		}
		entry, ok := services[0].(map[string]interface{})
		if !ok {
			return map[string]interface{}{}, shapeAbsent
		}
		if props, ok := entry["properties"].(map[string]interface{}); ok {
			return props, shapeSequence
		}
		return map[string]interface{}{}, shapeSequence
	case map[string]interface{}:
		if props, ok := services["properties"].(map[string]interface{}); ok {
			return props, shapeSingle
		}
		return map[string]interface{}{}, shapeSingle
	default:
		return map[string]interface{}{}, shapeAbsent
	}
}

// Normalize extracts a flat sensor-reading record from an inbound report
// payload. Missing or non-coercible measurement fields become nil and the
// full payload is preserved verbatim in RawJSON. The only failure mode is
// a top-level payload that is not a structured object.
func Normalize(payload []byte) (*models.NormalizedReading, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	props, _ := resolveProperties(doc)

	reading := &models.NormalizedReading{
		CropAreaID: 1,
		RawJSON:    string(payload),
	}

	if v, ok := coerceNumber(props["cropArea_id"]); ok {
		reading.CropAreaID = int64(v)
	}

	reading.Temperature = numberField(props, "temperature")
	reading.Humidity = numberField(props, "humidity")
	reading.Noise = numberField(props, "noise")
	reading.PM25 = numberField(props, "PM25")
	reading.PM10 = numberField(props, "PM10")
	reading.AtmosphericPressure = numberField(props, "atmospheric_pressure")
	reading.LightLux = numberField(props, "light")
	reading.SoilTemperature = numberField(props, "soil_temperature")
	reading.SoilHumidity = numberField(props, "soil_humidity")
	reading.SoilConductivity = numberField(props, "soil_conductivity")

	return reading, nil
}

// numberField returns the named property as a float pointer, or nil when
// the property is absent or not coercible to a number.
func numberField(props map[string]interface{}, key string) *float64 {
	if v, ok := coerceNumber(props[key]); ok {
		return &v
	}
	return nil
}

// coerceNumber converts JSON numbers and numeric strings to float64.
func coerceNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
