package detect

import (
	"strings"

	"github.com/lox/sensorfault/internal/schema"
)

// Matches reports whether a table with these column labels is a plausible
// upload for a family the operator picked explicitly. It is looser than
// Classify for wafer data and has no precedence between families.
func Matches(labels []string, family schema.Family) bool {
	l := NewLabels(labels)
	hasSensorValue := l.Norm["sensorvalue"]

	switch family {
	case schema.Wafer:
		sensors := 0
		for k := range l.Norm {
			if strings.Contains(string(k), "wafer") {
				return true
			}
			if strings.HasPrefix(string(k), "sensor") && k != "sensorvalue" {
				sensors++
			}
		}
		return sensors >= 2
	case schema.Soil:
		return l.Raw[schema.SoilTimestamp] && hasSensorValue
	case schema.Temperature:
		return l.Exact[schema.TemperatureTimestamp] && hasSensorValue
	case schema.Gas:
		return l.Norm["mq2value"] || (l.Raw["temperature"] && l.Raw["humidity"])
	case schema.Light:
		return l.Norm["ldrvalue"] || l.Norm["ambientlight"]
	}
	return false
}
