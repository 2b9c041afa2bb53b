// Package pipeline composes the per-camera perception loop: capture,
// detection, tracking, slot occupancy and event publishing, under a
// latency budget the loop actively protects.
package pipeline

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CameraConfig configures one camera.
type CameraConfig struct {
	ID           string  `json:"id"`
	Name         string  `json:"name,omitempty"`
	RTSPURL      string  `json:"rtspUrl"`
	ParkingLotID string  `json:"parkingLotId"`
	ZoneID       string  `json:"zoneId,omitempty"`
	Enabled      bool    `json:"enabled"`
	TargetFPS    float64 `json:"targetFps,omitempty"`
}

// MQTTSettings configures the optional fan-out channel.
type MQTTSettings struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topicPrefix"`
}

// Config is the full pipeline configuration.
type Config struct {
	APIEndpoint   string `json:"apiEndpoint"`
	APIBatchSize  int    `json:"apiBatchSize"`
	APIIntervalMS int    `json:"apiIntervalMs"`

	MQTT MQTTSettings `json:"mqtt"`

	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	IOUThreshold        float64 `json:"iouThreshold"`
	MaxTrackAge         int     `json:"maxTrackAge"`

	ConfirmationFrames int `json:"confirmationFrames"`
	HysteresisFrames   int `json:"hysteresisFrames"`

	TargetLatencyMS float64 `json:"targetLatencyMs"`
	MinSkipInterval int     `json:"minSkipInterval"`
	MaxSkipInterval int     `json:"maxSkipInterval"`

	// PlateLimit caps per-tick plate recognitions to bound worst-case
	// latency.
	PlateLimit int `json:"plateLimit"`

	FrameBufferSize  int     `json:"frameBufferSize"`
	ReconnectDelayMS int     `json:"reconnectDelayMs"`
	CaptureFPS       float64 `json:"captureFps"`

	MetricsAddress string `json:"metricsAddress,omitempty"`

	Cameras []CameraConfig `json:"cameras"`
}

// DefaultConfig returns the configuration used when a field is left unset.
func DefaultConfig() Config {
	return Config{
		APIEndpoint:         "http://localhost:3000/api/realtime/detection",
		APIBatchSize:        10,
		APIIntervalMS:       1000,
		MQTT:                MQTTSettings{TopicPrefix: "sparking/detection"},
		ConfidenceThreshold: 0.5,
		IOUThreshold:        0.3,
		MaxTrackAge:         30,
		ConfirmationFrames:  5,
		HysteresisFrames:    3,
		TargetLatencyMS:     100,
		MinSkipInterval:     1,
		MaxSkipInterval:     10,
		PlateLimit:          3,
		FrameBufferSize:     30,
		ReconnectDelayMS:    5000,
		CaptureFPS:          10,
	}
}

// Load reads a JSON config file if path is non-empty, then applies
// environment overrides on top. A missing file is not an error; the
// defaults plus environment carry it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env
		case err != nil:
			return Config{}, errors.Wrapf(err, "reading config %s", path)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "parsing config %s", path)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("API_ENDPOINT"); v != "" {
		c.APIEndpoint = v
	}
	switch {
	case os.Getenv("MQTT_BROKER") != "":
		c.MQTT.Enabled = true
		c.MQTT.Broker = os.Getenv("MQTT_BROKER")
	case os.Getenv("MQTT_HOST") != "":
		// MQTT_HOST and MQTT_PORT assemble a broker url when no full
		// MQTT_BROKER is given
		port := os.Getenv("MQTT_PORT")
		if port == "" {
			port = "1883"
		}
		c.MQTT.Enabled = true
		c.MQTT.Broker = "tcp://" + net.JoinHostPort(os.Getenv("MQTT_HOST"), port)
	}
	lotID := os.Getenv("PARKING_LOT_ID")
	if lotID == "" {
		lotID = "default"
	}
	urls := splitNonEmpty(os.Getenv("CAMERA_URLS"))
	ids := splitNonEmpty(os.Getenv("CAMERA_IDS"))
	for i, url := range urls {
		id := "camera_" + strconv.Itoa(i)
		if i < len(ids) {
			id = ids[i]
		}
		c.Cameras = append(c.Cameras, CameraConfig{
			ID:           id,
			RTSPURL:      url,
			ParkingLotID: lotID,
			Enabled:      true,
		})
	}
}

// Validate checks the configuration for nonsense values.
func (c *Config) Validate() error {
	if c.APIEndpoint == "" {
		return errors.New("apiEndpoint cannot be empty")
	}
	if c.ConfirmationFrames < 1 || c.HysteresisFrames < 1 {
		return errors.New("confirmationFrames and hysteresisFrames must be at least 1")
	}
	if c.IOUThreshold < 0 || c.IOUThreshold > 1 {
		return errors.New("iouThreshold must be within [0, 1]")
	}
	if c.MinSkipInterval < 1 || c.MaxSkipInterval < c.MinSkipInterval {
		return errors.New("skip intervals must satisfy 1 <= min <= max")
	}
	if c.PlateLimit < 0 {
		return errors.New("plateLimit cannot be negative")
	}
	seen := map[string]bool{}
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return errors.New("camera id cannot be empty")
		}
		if seen[cam.ID] {
			return errors.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Enabled && cam.RTSPURL == "" {
			return errors.Errorf("camera %q has no stream url", cam.ID)
		}
	}
	return nil
}

// ReconnectDelay returns the camera reconnect delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// FlushInterval returns the publisher flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.APIIntervalMS) * time.Millisecond
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
