// Package schema holds the static column vocabulary shared by sensor
// detection, alias resolution and feature preparation: the normalizer, the
// synonym table and the ordered feature list each family's model consumes.
// Everything here is initialized once and never mutated.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

type Family string

const (
	Wafer       Family = "wafer"
	Gas         Family = "gas"
	Temperature Family = "temperature"
	Soil        Family = "soil"
	Light       Family = "light"
	Unknown     Family = "unknown"
)

// Families lists the known families in a stable order, excluding Unknown.
var Families = []Family{Wafer, Gas, Temperature, Soil, Light}

const waferSensorCount = 30

// Canonical labels whose punctuation is load-bearing.
const (
	SoilTimestamp        = "timestamp_ms"
	TemperatureTimestamp = "timestamp(ms)"
)

var synonyms = map[string]string{
	"mq2":       "mq2_value",
	"mq2value":  "mq2_value",
	"mq2_value": "mq2_value",

	"temp":        "temperature",
	"temperature": "temperature",

	"humidity": "humidity",
	"hum":      "humidity",

	"wafer":    "wafer_id",
	"waferid":  "wafer_id",
	"wafer_id": "wafer_id",

	"sensorvalue":  "sensor_value",
	"sensor_value": "sensor_value",

	"ldr":       "ldr_value",
	"ldrvalue":  "ldr_value",
	"ldr_value": "ldr_value",

	"ambientlight":  "ambient_light",
	"ambient_light": "ambient_light",

	// "timestampms" is intentionally absent: it would fold timestamp(ms)
	// onto the soil column and break temperature detection.
	"timestampmsunderscore": SoilTimestamp,
	"timestamp_ms":          SoilTimestamp,
	"timestampmsparen":      TemperatureTimestamp,
}

var synonymKeys = func() []string {
	keys := make([]string, 0, len(synonyms))
	for k := range synonyms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}()

var expected = map[Family][]string{
	Wafer:       waferFeatures(),
	Gas:         {"mq2_value", "temperature", "humidity", "hour", "dayofweek"},
	Soil:        {"sensor_value", "rolling_mean", "rolling_std"},
	Temperature: {TemperatureTimestamp, "sensor_value"},
	Light:       {"ldr_value", "voltage", "resistance", "ambient_light"},
}

func waferFeatures() []string {
	out := make([]string, 0, waferSensorCount+1)
	out = append(out, "wafer_id")
	for i := 1; i <= waferSensorCount; i++ {
		out = append(out, fmt.Sprintf("sensor_%d", i))
	}
	return out
}

var modelFiles = map[Family]string{
	Wafer:       "wafer_pipeline",
	Soil:        "soil_moisture_pipeline",
	Gas:         "gas_pipeline",
	Temperature: "temperature_pipeline",
	Light:       "ldr_pipeline",
}

var displayNames = map[Family]string{
	Wafer:       "Wafer Sensor",
	Soil:        "Soil-Moisture Sensor",
	Gas:         "Gas Sensor",
	Temperature: "Temperature Sensor",
	Light:       "Light Sensor",
	Unknown:     "Unknown",
}

// Synonym returns the canonical feature name registered for key.
func Synonym(key string) (string, bool) {
	c, ok := synonyms[key]
	return c, ok
}

// SynonymKeys returns every synonym key, sorted.
func SynonymKeys() []string {
	out := make([]string, len(synonymKeys))
	copy(out, synonymKeys)
	return out
}

// Expected returns a copy of the ordered feature list for f. Unknown and
// unrecognized families yield nil.
func Expected(f Family) []string {
	cols, ok := expected[f]
	if !ok {
		return nil
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// ModelFile returns the base file name (without extension) a family's model
// is stored under.
func ModelFile(f Family) string {
	return modelFiles[f]
}

func (f Family) Known() bool {
	_, ok := expected[f]
	return ok
}

// DisplayName is the label shown to operators, e.g. "Soil-Moisture Sensor".
func (f Family) DisplayName() string {
	if n, ok := displayNames[f]; ok {
		return n
	}
	return string(f)
}

// ParseFamily accepts either the family id ("soil") or its display name
// ("Soil-Moisture Sensor"), case-insensitively.
func ParseFamily(s string) (Family, error) {
	s = strings.TrimSpace(s)
	for _, f := range Families {
		if strings.EqualFold(s, string(f)) || strings.EqualFold(s, displayNames[f]) {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("unknown sensor family %q", s)
}
