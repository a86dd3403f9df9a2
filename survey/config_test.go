package survey

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/tapmesh/signal"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func floatPtr(v float64) *float64 { return &v }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

const validConfigYAML = `mqtt:
  broker: tcp://localhost:1883
  clientId: tapmesh-test
  publishPrefix: lab
survey:
  pixelsPerMeter: 20
  windowSeconds: 5
quality:
  minSamples: 3
  minPacketsPerSecond: 0.5
  topN: 4
store:
  driver: sqlite
sources:
  - id: "AA:BB"
    name: Beacon-1
    x: 120
    y: 340
    elevation: 2.5
    txPower: -8
    rssiAt1m: -62.5
  - id: "CC:DD"
    name: phone*
    excluded: true
`

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "lab", cfg.MQTT.PublishPrefix)
	assert.Equal(t, "lab/samples", cfg.MQTT.SampleTopic, "sample topic defaults under the prefix")
	assert.Equal(t, 20.0, cfg.Survey.PixelsPerMeter)
	assert.Equal(t, 5*time.Second, cfg.Survey.Window())
	assert.Equal(t, 0.5, cfg.Survey.DedupThresholdMeters)
	assert.Equal(t, 1.2, cfg.Survey.DeviceHeightMeters)
	assert.Equal(t, HistogramConfig{MinDbm: -100, MaxDbm: -30, BinSizeDb: 1}, cfg.Histogram)
	assert.Equal(t, signal.Quality{MinSamples: 3, MinPPS: 0.5, TopN: 4}, cfg.Quality)
	assert.Equal(t, StoreConfig{Driver: "sqlite", Path: "points.db"}, cfg.Store)
	require.Len(t, cfg.Sources, 2)
	require.NotNil(t, cfg.Sources[0].TxPower)
	assert.Equal(t, -8, *cfg.Sources[0].TxPower)

	meta, ok := cfg.Meta("AA:BB")
	require.True(t, ok)
	require.NotNil(t, meta.RSSIAt1mDbm)
	assert.Equal(t, -62.5, *meta.RSSIAt1mDbm)
	assert.Equal(t, -8, *meta.TxPowerDbm)
}

func TestLoadConfig_PartialBlocks(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "quality:\n  minSamples: 5\nhistogram:\n  binSizeDb: 2\n"))
	require.NoError(t, err)

	def := signal.DefaultQuality()
	assert.Equal(t, signal.Quality{MinSamples: 5, MinPPS: def.MinPPS, TopN: def.TopN}, cfg.Quality)
	assert.Equal(t, HistogramConfig{MinDbm: signal.DefaultMinDbm, MaxDbm: signal.DefaultMaxDbm, BinSizeDb: 2}, cfg.Histogram)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, signal.DefaultQuality(), cfg.Quality)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_PUBLISH_PREFIX", "site")

	cfg, err := LoadConfig(writeConfig(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "site", cfg.MQTT.PublishPrefix)
	assert.Equal(t, "site/samples", cfg.MQTT.SampleTopic)
	assert.Equal(t, "tapmesh-test", cfg.MQTT.ClientID)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative scale", "survey: {pixelsPerMeter: -1}\n", "survey.pixelsPerMeter"},
		{"negative window", "survey: {windowSeconds: -2}\n", "survey.windowSeconds"},
		{"negative threshold", "survey: {dedupThresholdMeters: -0.1}\n", "survey.dedupThresholdMeters"},
		{"bad bins", "histogram: {minDbm: -100, maxDbm: -30, binSizeDb: -1}\n", "histogram.binSizeDb"},
		{"inverted range", "histogram: {minDbm: -30, maxDbm: -100, binSizeDb: 1}\n", "histogram.maxDbm"},
		{"bad driver", "store: {driver: postgres}\n", "store.driver"},
		{"source without id", "sources:\n  - name: x\n", "sources[0].id"},
		{"duplicate source", "sources:\n  - id: a\n  - id: a\n", "duplicated"},
		{"half position", "sources:\n  - id: a\n    x: 1\n", "must be set together"},
		{"bad yaml", "survey: [\n", "parsing config YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources = []SourceConfig{{ID: "a", X: floatPtr(1), Y: floatPtr(2)}}
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

// ---------------------------------------------------------------------------
// Source lookups
// ---------------------------------------------------------------------------

func TestConfig_ExcludedAndMeta(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.True(t, cfg.Excluded("CC:DD", ""))
	assert.True(t, cfg.Excluded("EE:FF", "phone-of-bob"))
	assert.False(t, cfg.Excluded("AA:BB", "Beacon-1"))
	assert.False(t, cfg.Excluded("EE:FF", ""))

	meta, ok := cfg.Meta("AA:BB")
	require.True(t, ok)
	assert.True(t, meta.HasPosition())
	assert.Equal(t, 120.0, *meta.X)
	assert.Equal(t, 2.5, *meta.Elevation)

	_, ok = cfg.Meta("nope")
	assert.False(t, ok)
}
