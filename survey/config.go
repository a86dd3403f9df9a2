// Package survey composes the mesh projector, point resolver and signal
// aggregator into a survey workflow, and carries the transport around it:
// YAML configuration, the MQTT sample feed, scan publishing and the on-disk
// record archive.
package survey

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kwv/tapmesh/mesh"
	"github.com/kwv/tapmesh/signal"
)

// Config is the service configuration.
type Config struct {
	MQTT       MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Survey     SurveyConfig    `yaml:"survey" json:"survey"`
	Histogram  HistogramConfig `yaml:"histogram" json:"histogram"`
	Quality    signal.Quality  `yaml:"quality" json:"quality"`
	Store      StoreConfig     `yaml:"store" json:"store"`
	RecordsDir string          `yaml:"recordsDir,omitempty" json:"recordsDir,omitempty"`
	Sources    []SourceConfig  `yaml:"sources,omitempty" json:"sources,omitempty"`
}

// MQTTConfig holds MQTT connection settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	SampleTopic   string `yaml:"sampleTopic" json:"sampleTopic"`
}

// SurveyConfig holds map scale and scan settings.
type SurveyConfig struct {
	PixelsPerMeter       float64 `yaml:"pixelsPerMeter" json:"pixelsPerMeter"`
	DedupThresholdMeters float64 `yaml:"dedupThresholdMeters" json:"dedupThresholdMeters"`
	WindowSeconds        float64 `yaml:"windowSeconds" json:"windowSeconds"`
	BoundaryEpsilon      float64 `yaml:"boundaryEpsilon" json:"boundaryEpsilon"`
	FillSpacingMeters    float64 `yaml:"fillSpacingMeters" json:"fillSpacingMeters"`
	DeviceHeightMeters   float64 `yaml:"deviceHeightMeters" json:"deviceHeightMeters"`
	NorthOffsetDeg       float64 `yaml:"northOffsetDeg,omitempty" json:"northOffsetDeg,omitempty"`
	FineTuneDeg          float64 `yaml:"fineTuneDeg,omitempty" json:"fineTuneDeg,omitempty"`
}

// Window is the scan window length.
func (s SurveyConfig) Window() time.Duration {
	return time.Duration(s.WindowSeconds * float64(time.Second))
}

// Scale returns the map scale.
func (s SurveyConfig) Scale() mesh.MapScale {
	return mesh.MapScale{PixelsPerMeter: s.PixelsPerMeter}
}

// HistogramConfig is the per-source histogram binning in dBm.
type HistogramConfig struct {
	MinDbm    int `yaml:"minDbm" json:"minDbm"`
	MaxDbm    int `yaml:"maxDbm" json:"maxDbm"`
	BinSizeDb int `yaml:"binSizeDb" json:"binSizeDb"`
}

// StoreConfig selects the point store.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"` // memory or sqlite
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
}

// SourceConfig describes a known transmitter. Position is in map pixels.
// TxPower is the advertised transmit power setting and is metadata only;
// RSSIAt1m is the calibrated reading at one meter used for distance estimates.
type SourceConfig struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name,omitempty" json:"name,omitempty"`
	X         *float64 `yaml:"x,omitempty" json:"x,omitempty"`
	Y         *float64 `yaml:"y,omitempty" json:"y,omitempty"`
	Elevation *float64 `yaml:"elevation,omitempty" json:"elevation,omitempty"`
	TxPower   *int     `yaml:"txPower,omitempty" json:"txPower,omitempty"`
	RSSIAt1m  *float64 `yaml:"rssiAt1m,omitempty" json:"rssiAt1m,omitempty"`
	Excluded  bool     `yaml:"excluded,omitempty" json:"excluded,omitempty"`
}

// DefaultConfig returns a configuration with every default applied and MQTT
// disabled.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "tapmesh"
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = "tapmesh"
	}
	if c.MQTT.SampleTopic == "" {
		c.MQTT.SampleTopic = c.MQTT.PublishPrefix + "/samples"
	}
	if c.Survey.PixelsPerMeter == 0 {
		c.Survey.PixelsPerMeter = 50
	}
	if c.Survey.DedupThresholdMeters == 0 {
		c.Survey.DedupThresholdMeters = 0.5
	}
	if c.Survey.WindowSeconds == 0 {
		c.Survey.WindowSeconds = 10
	}
	if c.Survey.BoundaryEpsilon == 0 {
		c.Survey.BoundaryEpsilon = mesh.DefaultBoundaryEpsilon
	}
	if c.Survey.FillSpacingMeters == 0 {
		c.Survey.FillSpacingMeters = 1
	}
	if c.Survey.DeviceHeightMeters == 0 {
		c.Survey.DeviceHeightMeters = 1.2
	}
	if c.Histogram.MinDbm == 0 {
		c.Histogram.MinDbm = signal.DefaultMinDbm
	}
	if c.Histogram.MaxDbm == 0 {
		c.Histogram.MaxDbm = signal.DefaultMaxDbm
	}
	if c.Histogram.BinSizeDb == 0 {
		c.Histogram.BinSizeDb = signal.DefaultBinSizeDb
	}
	def := signal.DefaultQuality()
	if c.Quality.MinSamples == 0 {
		c.Quality.MinSamples = def.MinSamples
	}
	if c.Quality.MinPPS == 0 {
		c.Quality.MinPPS = def.MinPPS
	}
	if c.Quality.TopN == 0 {
		c.Quality.TopN = def.TopN
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "points.db"
	}
}

// applyEnv lets MQTT_* environment variables override the file.
func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"MQTT_BROKER":         &c.MQTT.Broker,
		"MQTT_CLIENT_ID":      &c.MQTT.ClientID,
		"MQTT_USERNAME":       &c.MQTT.Username,
		"MQTT_PASSWORD":       &c.MQTT.Password,
		"MQTT_PUBLISH_PREFIX": &c.MQTT.PublishPrefix,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// Validate checks the configuration for values the engine cannot work with.
func (c *Config) Validate() error {
	if c.Survey.PixelsPerMeter <= 0 {
		return fmt.Errorf("survey.pixelsPerMeter must be positive")
	}
	if c.Survey.DedupThresholdMeters < 0 {
		return fmt.Errorf("survey.dedupThresholdMeters must not be negative")
	}
	if c.Survey.WindowSeconds <= 0 {
		return fmt.Errorf("survey.windowSeconds must be positive")
	}
	if c.Survey.FillSpacingMeters <= 0 {
		return fmt.Errorf("survey.fillSpacingMeters must be positive")
	}
	if c.Histogram.BinSizeDb <= 0 {
		return fmt.Errorf("histogram.binSizeDb must be positive")
	}
	if c.Histogram.MaxDbm < c.Histogram.MinDbm {
		return fmt.Errorf("histogram.maxDbm must not be below histogram.minDbm")
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver %q is not supported (memory or sqlite)", c.Store.Driver)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, s.ID)
		}
		seen[s.ID] = true
		if (s.X == nil) != (s.Y == nil) {
			return fmt.Errorf("sources[%d].x and y must be set together for %s", i, s.ID)
		}
	}
	return nil
}

// LoadConfig reads a YAML configuration file, applies defaults and
// environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Source returns the configured source with the given id.
func (c *Config) Source(id string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Excluded reports whether a source is excluded by configuration. Sources are
// matched by id, or by name when the configured name ends in '*'.
func (c *Config) Excluded(id, name string) bool {
	for _, s := range c.Sources {
		if !s.Excluded {
			continue
		}
		if s.ID == id {
			return true
		}
		if prefix, ok := strings.CutSuffix(s.Name, "*"); ok && name != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Meta resolves configured metadata for a source.
func (c *Config) Meta(id string) (signal.SourceMeta, bool) {
	s, ok := c.Source(id)
	if !ok {
		return signal.SourceMeta{}, false
	}
	return signal.SourceMeta{
		ID:          s.ID,
		Name:        s.Name,
		X:           s.X,
		Y:           s.Y,
		Elevation:   s.Elevation,
		TxPowerDbm:  s.TxPower,
		RSSIAt1mDbm: s.RSSIAt1m,
	}, true
}
