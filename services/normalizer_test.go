package services

import (
	"errors"
	"testing"

	"agrisense/models"
)

func TestNormalizeSequenceShape(t *testing.T) {
	payload := []byte(`{"services":[{"service_id":"smartAgriculture","properties":{
		"cropArea_id": 3,
		"temperature": 24.5,
		"humidity": 61.2,
		"noise": 40.1,
		"PM25": 18,
		"PM10": 25,
		"atmospheric_pressure": 1011.3,
		"light": 12000,
		"soil_temperature": 19.8,
		"soil_humidity": 44.0,
		"soil_conductivity": 1.1
	}}]}`)

	r, err := Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if r.CropAreaID != 3 {
		t.Errorf("expected crop area 3, got %d", r.CropAreaID)
	}
	if r.Temperature == nil || *r.Temperature != 24.5 {
		t.Errorf("unexpected temperature: %v", r.Temperature)
	}
	if r.Humidity == nil || *r.Humidity != 61.2 {
		t.Errorf("unexpected humidity: %v", r.Humidity)
	}
	if r.PM25 == nil || *r.PM25 != 18 {
		t.Errorf("unexpected PM25: %v", r.PM25)
	}
	if r.LightLux == nil || *r.LightLux != 12000 {
		t.Errorf("unexpected light: %v", r.LightLux)
	}
	if r.SoilConductivity == nil || *r.SoilConductivity != 1.1 {
		t.Errorf("unexpected soil conductivity: %v", r.SoilConductivity)
	}
}

func TestNormalizeSingleObjectShape(t *testing.T) {
	payload := []byte(`{"services":{"properties":{"temperature":30.0,"humidity":55}}}`)

	r, err := Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if r.Temperature == nil || *r.Temperature != 30.0 {
		t.Errorf("unexpected temperature: %v", r.Temperature)
	}
	if r.Humidity == nil || *r.Humidity != 55 {
		t.Errorf("unexpected humidity: %v", r.Humidity)
	}
}

func TestNormalizeMalformedPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"top-level array", `[1,2,3]`},
		{"top-level string", `"hello"`},
		{"empty", ``},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.payload))
			if !errors.Is(err, models.ErrMalformedPayload) {
				t.Errorf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestNormalizeMissingPropertiesIsNotAnError(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"no services key", `{"other": true}`},
		{"empty services array", `{"services":[]}`},
		{"services entry without properties", `{"services":[{"service_id":"x"}]}`},
		{"services is a number", `{"services": 7}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Normalize([]byte(tc.payload))
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if r.Temperature != nil {
				t.Errorf("expected nil temperature, got %v", *r.Temperature)
			}
			if r.CropAreaID != 1 {
				t.Errorf("expected default crop area 1, got %d", r.CropAreaID)
			}
		})
	}
}

func TestNormalizeFieldCoercion(t *testing.T) {
	payload := []byte(`{"services":[{"properties":{
		"temperature": "23.4",
		"humidity": "not a number",
		"PM25": true,
		"light": null
	}}]}`)

	r, err := Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if r.Temperature == nil || *r.Temperature != 23.4 {
		t.Errorf("numeric string should coerce, got %v", r.Temperature)
	}
	if r.Humidity != nil {
		t.Errorf("non-numeric string should become nil, got %v", *r.Humidity)
	}
	if r.PM25 != nil {
		t.Errorf("boolean should become nil, got %v", *r.PM25)
	}
	if r.LightLux != nil {
		t.Errorf("null should become nil, got %v", *r.LightLux)
	}
}

func TestNormalizeKeysAreCaseSensitive(t *testing.T) {
	payload := []byte(`{"services":[{"properties":{"pm25": 50, "Temperature": 22}}]}`)

	r, err := Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if r.PM25 != nil {
		t.Errorf("lowercase pm25 must not match PM25, got %v", *r.PM25)
	}
	if r.Temperature != nil {
		t.Errorf("capitalized Temperature must not match temperature, got %v", *r.Temperature)
	}
}

func TestNormalizePreservesRawPayload(t *testing.T) {
	payload := []byte(`{"services":[{"properties":{"temperature":1}}],  "extra": "kept"}`)

	r, err := Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if r.RawJSON != string(payload) {
		t.Errorf("raw payload must be preserved byte for byte\ngot:  %s\nwant: %s", r.RawJSON, payload)
	}
}
