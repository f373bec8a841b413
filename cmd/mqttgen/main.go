package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	rps        = flag.Int("rps", 1, "Messages per second")
	deviceID   = flag.String("device", "SmartAgriculture_thermometer", "Device ID for mock data")
	cropArea   = flag.Int("crop-area", 1, "Crop area ID to report")
	anomaly    = flag.Float64("anomaly", 0.1, "Probability of out-of-range values (0.0-1.0)")
	partial    = flag.Float64("partial", 0.05, "Probability of a partial report with missing fields (0.0-1.0)")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
)

// reportEnvelope mimics the device firmware's report format: a services
// array whose entries each carry a properties object.
type reportEnvelope struct {
	Services []reportService `json:"services"`
}

type reportService struct {
	ServiceID  string                 `json:"service_id"`
	Properties map[string]interface{} `json:"properties"`
	EventTime  string                 `json:"event_time"`
}

type MockDataGenerator struct {
	deviceID     string
	cropAreaID   int
	anomalyProb  float64
	partialProb  float64
	baseTemp     float64
	baseHumidity float64
	logger       *zap.Logger
}

func NewMockDataGenerator(deviceID string, cropAreaID int, anomalyProb, partialProb float64, logger *zap.Logger) *MockDataGenerator {
	return &MockDataGenerator{
		deviceID:     deviceID,
		cropAreaID:   cropAreaID,
		anomalyProb:  anomalyProb,
		partialProb:  partialProb,
		baseTemp:     24.0, // Base greenhouse temperature ~24°C
		baseHumidity: 65.0, // Base humidity ~65%
		logger:       logger,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// GenerateReport builds one properties report. Anomalous reports push
// values past the alert thresholds; partial reports drop fields the way
// flaky firmware does.
func (m *MockDataGenerator) GenerateReport() (*reportEnvelope, bool) {
	isAnomaly := rand.Float64() < m.anomalyProb
	isPartial := rand.Float64() < m.partialProb

	temperature := m.baseTemp + rand.Float64()*4.0 - 2.0
	if isAnomaly {
		if rand.Float64() < 0.5 {
			temperature = 62.0 + rand.Float64()*8.0 // above alert ceiling
		} else {
			temperature = -25.0 - rand.Float64()*5.0 // below alert floor
		}
	}

	humidity := m.baseHumidity + rand.Float64()*10.0 - 5.0

	pm25 := 20.0 + rand.Float64()*30.0
	if isAnomaly && rand.Float64() < 0.3 {
		pm25 = 1100.0 + rand.Float64()*200.0
	}

	light := 5000.0 + rand.Float64()*20000.0
	if isAnomaly && rand.Float64() < 0.2 {
		light = 110000.0 + rand.Float64()*20000.0
	}

	props := map[string]interface{}{
		"cropArea_id":          m.cropAreaID,
		"temperature":          round1(temperature),
		"humidity":             round1(humidity),
		"noise":                round1(35.0 + rand.Float64()*15.0),
		"PM25":                 round1(pm25),
		"PM10":                 round1(pm25 * 1.4),
		"atmospheric_pressure": round1(1008.0 + rand.Float64()*8.0),
		"light":                round1(light),
		"soil_temperature":     round1(m.baseTemp - 4.0 + rand.Float64()*2.0),
		"soil_humidity":        round1(40.0 + rand.Float64()*20.0),
		"soil_conductivity":    round1(0.8 + rand.Float64()*0.6),
	}

	if isPartial {
		for _, key := range []string{"PM25", "PM10", "light", "soil_conductivity"} {
			if rand.Float64() < 0.5 {
				delete(props, key)
			}
		}
	}

	return &reportEnvelope{
		Services: []reportService{{
			ServiceID:  "smartAgriculture",
			Properties: props,
			EventTime:  time.Now().UTC().Format("20060102T150405Z"),
		}},
	}, isAnomaly
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	topic := fmt.Sprintf("$oc/devices/%s/sys/properties/report", *deviceID)

	logger.Info("MQTT mock report generator started",
		zap.String("device_id", *deviceID),
		zap.Int("rps", *rps),
		zap.Float64("anomaly_probability", *anomaly),
		zap.Float64("partial_probability", *partial),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("mqtt_topic", topic),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("%s-generator", *deviceID))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker",
			zap.String("broker", *mqttBroker))
	}

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	mockGen := NewMockDataGenerator(*deviceID, *cropArea, *anomaly, *partial, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	interval := time.Second / time.Duration(*rps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Starting to publish mock reports",
		zap.Duration("interval", interval),
		zap.String("rate", fmt.Sprintf("%d msg/s", *rps)))

	messageCount := 0
	anomalyCount := 0
	startTime := time.Now()

	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			avgRate := float64(messageCount) / elapsed.Seconds()

			logger.Info("Shutting down",
				zap.Int("total_messages", messageCount),
				zap.Int("anomalies_generated", anomalyCount),
				zap.Duration("total_uptime", elapsed),
				zap.Float64("avg_rate", avgRate),
			)

			mqttClient.Disconnect(250)
			logger.Info("Shutdown complete")
			return

		case <-ticker.C:
			report, isAnomaly := mockGen.GenerateReport()
			if isAnomaly {
				anomalyCount++
			}

			jsonData, err := json.Marshal(report)
			if err != nil {
				logger.Error("Failed to marshal report", zap.Error(err))
				continue
			}

			token := mqttClient.Publish(topic, 0, false, jsonData)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish MQTT message",
					zap.Error(token.Error()),
					zap.Int("message_count", messageCount))
				continue
			}
			messageCount++

			if messageCount%100 == 0 {
				logger.Info("MQTT messages published",
					zap.Int("count", messageCount),
					zap.Int("anomalies", anomalyCount),
					zap.Float64("rate", float64(messageCount)/time.Since(startTime).Seconds()),
				)
			}

			logger.Debug("Published MQTT message",
				zap.String("device_id", *deviceID),
				zap.String("topic", topic),
				zap.Bool("is_anomaly", isAnomaly),
			)

		case <-statsTicker.C:
			anomalyRate := 0.0
			if messageCount > 0 {
				anomalyRate = float64(anomalyCount) / float64(messageCount) * 100
			}

			logger.Info("Statistics",
				zap.Int("total_messages", messageCount),
				zap.Int("anomalies", anomalyCount),
				zap.Float64("anomaly_rate_percent", anomalyRate),
				zap.Float64("avg_rate_msg_per_sec", float64(messageCount)/time.Since(startTime).Seconds()),
				zap.Duration("uptime", time.Since(startTime)),
			)
		}
	}
}
