package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/jpalmer/watersmart/internal/config"
	"github.com/jpalmer/watersmart/internal/sensor"
	"github.com/jpalmer/watersmart/internal/stats"
)

// Publisher delivers readings to Home Assistant over MQTT discovery and the
// AppDaemon HTTP backfill API
type Publisher struct {
	client          mqtt.Client
	topicPrefix     string
	discoveryPrefix string
	haConfig        config.HAConfig
	httpClient      *http.Client
}

// New creates a new publisher. Either transport can be enabled independently.
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
	}

	var client mqtt.Client
	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("watersmart-" + uuid.NewString()[:8])
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
	}

	return &Publisher{
		client:          client,
		topicPrefix:     mqttCfg.GetTopicPrefix(),
		discoveryPrefix: mqttCfg.GetDiscoveryPrefix(),
		haConfig:        haCfg,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// MQTTEnabled reports whether the MQTT transport is connected
func (p *Publisher) MQTTEnabled() bool {
	return p.client != nil
}

// HTTPEnabled reports whether the Home Assistant HTTP transport is configured
func (p *Publisher) HTTPEnabled() bool {
	return p.haConfig.Enabled
}

// discoveryDevice groups all sensors under one device in Home Assistant
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// discoveryPayload is the Home Assistant MQTT discovery config message
type discoveryPayload struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	Device            discoveryDevice `json:"device"`
}

// StateTopic returns the MQTT state topic for a sensor
func (p *Publisher) StateTopic(d sensor.Description) string {
	return fmt.Sprintf("%s/%s/state", p.topicPrefix, d.Key)
}

// PublishDiscovery announces every sensor to Home Assistant. Config messages
// are retained so sensors survive a broker or HA restart.
func (p *Publisher) PublishDiscovery(provider string) error {
	if p.client == nil {
		return fmt.Errorf("MQTT publishing is not enabled in config")
	}

	device := discoveryDevice{
		Identifiers:  []string{"watersmart_" + provider},
		Name:         "WaterSmart " + provider,
		Manufacturer: "VertexOne",
		Model:        "WaterSmart",
	}

	for _, d := range sensor.Catalog {
		payload := discoveryPayload{
			Name:              d.Name,
			UniqueID:          fmt.Sprintf("watersmart_%s_%s", provider, d.Key),
			StateTopic:        p.StateTopic(d),
			DeviceClass:       d.DeviceClass,
			StateClass:        d.StateClass,
			UnitOfMeasurement: d.Unit,
			Device:            device,
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding discovery payload for %s: %w", d.Key, err)
		}

		topic := fmt.Sprintf("%s/sensor/%s/config", p.discoveryPrefix, payload.UniqueID)
		if token := p.client.Publish(topic, 0, true, body); token.Wait() && token.Error() != nil {
			return fmt.Errorf("publishing discovery for %s: %w", d.Key, token.Error())
		}
	}

	return nil
}

// PublishState publishes the latest value for a sensor to its state topic
func (p *Publisher) PublishState(d sensor.Description, value float64) error {
	if p.client == nil {
		return fmt.Errorf("MQTT publishing is not enabled in config")
	}

	state := strconv.FormatFloat(value, 'f', d.Precision, 64)
	if token := p.client.Publish(p.StateTopic(d), 0, true, state); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing state for %s: %w", d.Key, token.Error())
	}
	return nil
}

// HAPayload matches the Home Assistant backfill service call data
type HAPayload struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
	LastUpdated string `json:"last_updated"`
}

// Backfill writes a historical state for a sensor via the AppDaemon HTTP API
func (p *Publisher) Backfill(d sensor.Description, value float64, ts time.Time) error {
	if !p.haConfig.Enabled {
		return fmt.Errorf("Home Assistant publishing is not enabled in config")
	}

	timestamp := ts.Format(time.RFC3339)
	payload := HAPayload{
		EntityID:    d.EntityID(),
		State:       strconv.FormatFloat(value, 'f', d.Precision, 64),
		LastChanged: timestamp,
		LastUpdated: timestamp,
	}

	return p.post("/api/appdaemon/backfill_state", payload)
}

// statisticRow is one block in an import_statistics call
type statisticRow struct {
	Start string  `json:"start"`
	State float64 `json:"state"`
	Mean  float64 `json:"mean"`
	Sum   float64 `json:"sum"`
}

// statisticsPayload matches the AppDaemon import_statistics service call data
type statisticsPayload struct {
	StatisticID       string         `json:"statistic_id"`
	Name              string         `json:"name"`
	UnitOfMeasurement string         `json:"unit_of_measurement"`
	Stats             []statisticRow `json:"stats"`
}

// ImportStatistics pushes aggregated statistic blocks for a sensor
func (p *Publisher) ImportStatistics(d sensor.Description, blocks []stats.Block) error {
	if !p.haConfig.Enabled {
		return fmt.Errorf("Home Assistant publishing is not enabled in config")
	}
	if len(blocks) == 0 {
		return nil
	}

	payload := statisticsPayload{
		StatisticID:       d.EntityID(),
		Name:              d.Name,
		UnitOfMeasurement: d.Unit,
		Stats:             make([]statisticRow, 0, len(blocks)),
	}
	for _, b := range blocks {
		payload.Stats = append(payload.Stats, statisticRow{
			Start: b.Start.Format(time.RFC3339),
			State: b.State,
			Mean:  b.Mean,
			Sum:   b.Sum,
		})
	}

	return p.post("/api/appdaemon/import_statistics", payload)
}

func (p *Publisher) post(path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequest("POST", p.haConfig.URL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
