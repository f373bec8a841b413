package services

import (
	"fmt"
	"sort"
	"time"

	"agrisense/models"

	"go.uber.org/zap"
)

// Window clamp for history queries, in hours.
const (
	minWindowHours = 0.1
	maxWindowHours = 720.0
)

// Plausibility ranges for the quality score. A populated value outside its
// range counts against the field's quality fraction.
const (
	qualityTempMin  = -20.0
	qualityTempMax  = 60.0
	qualityHumMin   = 0.0
	qualityHumMax   = 100.0
	qualityPM25Min  = 0.0
	qualityPM25Max  = 1000.0
	qualityLightMin = 0.0
	qualityLightMax = 100000.0
)

// timeLayouts is the fixed ordered list of formats tried when parsing a
// stored timestamp. Devices and older database files disagree on the
// separator and on fractional seconds.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006/01/02 15:04:05",
}

// ParseStoredTime parses a stored timestamp against the tolerated layouts,
// first match wins. Rows whose timestamps fail every layout are excluded
// from windowed computations rather than failing the query.
func ParseStoredTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatStoredTime re-renders a stored timestamp in the canonical layout.
// Unparseable values are returned unchanged.
func FormatStoredTime(value string) string {
	if t, ok := ParseStoredTime(value); ok {
		return t.Format(models.TimeLayout)
	}
	return value
}

// AggregateService computes time-bucketed series and statistical summaries
// over stored readings. It only ever reads.
type AggregateService struct {
	storage *StorageService
	logger  *zap.Logger
}

func NewAggregateService(storage *StorageService, logger *zap.Logger) *AggregateService {
	return &AggregateService{storage: storage, logger: logger}
}

func clampWindow(hours float64) float64 {
	if hours < minWindowHours {
		return minWindowHours
	}
	if hours > maxWindowHours {
		return maxWindowHours
	}
	return hours
}

// windowedReadings fetches the readings of a device inside the window
// anchored at its latest stored timestamp. The window anchors to the data,
// not the wall clock: a stale device still charts its last hours of life.
// Returns nil with noData=true when the device has no readings at all.
func (a *AggregateService) windowedReadings(deviceID string, hours float64) ([]models.Reading, time.Time, bool, error) {
	latest, err := a.storage.LatestTimestamp(deviceID)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if latest == nil {
		return nil, time.Time{}, true, nil
	}

	window := time.Duration(clampWindow(hours) * float64(time.Hour))

	anchor, ok := ParseStoredTime(*latest)
	var rows []models.Reading
	if ok {
		start := anchor.Add(-window)
		rows, err = a.storage.ReadingsSince(deviceID, start.Format(models.TimeLayout))
	} else {
		// Anchor row has a timestamp in no known format; scan the device's
		// history and recover the anchor from the parseable rows.
		rows, err = a.storage.ReadingsSince(deviceID, "")
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	if !ok {
		for _, r := range rows {
			if t, parsed := ParseStoredTime(r.Timestamp); parsed && t.After(anchor) {
				anchor = t
			}
		}
		if anchor.IsZero() {
			// Nothing parseable to anchor on: no windowed rows to offer.
			return nil, time.Time{}, true, nil
		}
	}

	start := anchor.Add(-window)
	filtered := rows[:0]
	for _, r := range rows {
		t, parsed := ParseStoredTime(r.Timestamp)
		if !parsed {
			continue
		}
		if !t.Before(start) && !t.After(anchor) {
			filtered = append(filtered, r)
		}
	}
	return filtered, anchor, false, nil
}

// HistorySeries returns the raw {timestamp, temperature, humidity} series
// of a device over a trailing window. Rows without a temperature are not
// chart-worthy and are excluded; humidity may stay null per point.
func (a *AggregateService) HistorySeries(deviceID string, hours float64) (*models.HistorySeries, error) {
	rows, _, noData, err := a.windowedReadings(deviceID, hours)
	if err != nil {
		return nil, err
	}
	if noData {
		return &models.HistorySeries{Points: []models.SeriesPoint{}, NoData: true}, nil
	}

	points := make([]models.SeriesPoint, 0, len(rows))
	for _, r := range rows {
		if r.Temperature == nil {
			continue
		}
		points = append(points, models.SeriesPoint{
			Timestamp:   r.Timestamp,
			Temperature: *r.Temperature,
			Humidity:    r.Humidity,
		})
	}
	return &models.HistorySeries{Points: points}, nil
}

// BucketedHistory groups a device's readings in the trailing window into
// fixed-width buckets aligned to the epoch (bucket index =
// floor(epoch seconds / bucketSeconds)) and averages temperature and
// humidity per bucket, ascending.
func (a *AggregateService) BucketedHistory(deviceID string, hours float64, bucketSeconds int) ([]models.BucketPoint, error) {
	if bucketSeconds <= 0 {
		return nil, fmt.Errorf("%w: bucket size must be positive, got %d", models.ErrQuery, bucketSeconds)
	}

	rows, _, noData, err := a.windowedReadings(deviceID, hours)
	if err != nil {
		return nil, err
	}
	if noData {
		return []models.BucketPoint{}, nil
	}

	type bucketAcc struct {
		tempSum float64
		tempN   int
		humSum  float64
		humN    int
	}
	buckets := make(map[int64]*bucketAcc)
	for _, r := range rows {
		t, ok := ParseStoredTime(r.Timestamp)
		if !ok {
			continue
		}
		idx := t.Unix() / int64(bucketSeconds)
		acc := buckets[idx]
		if acc == nil {
			acc = &bucketAcc{}
			buckets[idx] = acc
		}
		if r.Temperature != nil {
			acc.tempSum += *r.Temperature
			acc.tempN++
		}
		if r.Humidity != nil {
			acc.humSum += *r.Humidity
			acc.humN++
		}
	}

	indexes := make([]int64, 0, len(buckets))
	for idx := range buckets {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	points := make([]models.BucketPoint, 0, len(indexes))
	for _, idx := range indexes {
		acc := buckets[idx]
		p := models.BucketPoint{
			BucketStart: time.Unix(idx*int64(bucketSeconds), 0).In(time.Local).Format(models.TimeLayout),
		}
		if acc.tempN > 0 {
			avg := acc.tempSum / float64(acc.tempN)
			p.AvgTemperature = &avg
		}
		if acc.humN > 0 {
			avg := acc.humSum / float64(acc.humN)
			p.AvgHumidity = &avg
		}
		points = append(points, p)
	}
	return points, nil
}

// SystemIntegrity reports, over all stored readings, the fraction with
// each key field populated, plus their unweighted mean. An empty store
// scores 0 across the board.
func (a *AggregateService) SystemIntegrity() (*models.FieldFractions, error) {
	var total, nTemp, nHum, nPM25, nLight int64
	err := a.storage.db.QueryRow(`
		SELECT COUNT(*), COUNT(temperature), COUNT(humidity), COUNT(pm25), COUNT(light_lux)
		FROM sensor_data`).Scan(&total, &nTemp, &nHum, &nPM25, &nLight)
	if err != nil {
		return nil, fmt.Errorf("%w: integrity scan: %v", models.ErrQuery, err)
	}

	result := &models.FieldFractions{}
	if total == 0 {
		return result, nil
	}
	result.Temperature = float64(nTemp) / float64(total)
	result.Humidity = float64(nHum) / float64(total)
	result.PM25 = float64(nPM25) / float64(total)
	result.Light = float64(nLight) / float64(total)
	result.Overall = (result.Temperature + result.Humidity + result.PM25 + result.Light) / 4
	return result, nil
}

// SystemQuality reports, over readings in the recent window, the fraction
// of populated values inside their plausibility range per field. Overall is
// the mean over fields with at least one sample; none at all scores 0.
func (a *AggregateService) SystemQuality(window time.Duration) (*models.FieldFractions, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	start := time.Now().Add(-window)
	rows, err := a.storage.ReadingsSince("", start.Format(models.TimeLayout))
	if err != nil {
		return nil, err
	}

	type fieldAcc struct {
		samples int
		inRange int
	}
	var temp, hum, pm25, light fieldAcc

	check := func(acc *fieldAcc, v *float64, lo, hi float64) {
		if v == nil {
			return
		}
		acc.samples++
		if *v >= lo && *v <= hi {
			acc.inRange++
		}
	}

	for _, r := range rows {
		t, ok := ParseStoredTime(r.Timestamp)
		if !ok || t.Before(start) {
			continue
		}
		check(&temp, r.Temperature, qualityTempMin, qualityTempMax)
		check(&hum, r.Humidity, qualityHumMin, qualityHumMax)
		check(&pm25, r.PM25, qualityPM25Min, qualityPM25Max)
		check(&light, r.LightLux, qualityLightMin, qualityLightMax)
	}

	result := &models.FieldFractions{}
	var sum float64
	var fields int
	score := func(acc fieldAcc) float64 {
		if acc.samples == 0 {
			return 0
		}
		f := float64(acc.inRange) / float64(acc.samples)
		sum += f
		fields++
		return f
	}
	result.Temperature = score(temp)
	result.Humidity = score(hum)
	result.PM25 = score(pm25)
	result.Light = score(light)
	if fields > 0 {
		result.Overall = sum / float64(fields)
	}
	return result, nil
}
