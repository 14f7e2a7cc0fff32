package telemetry

import (
	"math"

	"github.com/juju/errors"
)

const (
	VoltageMax    = 60.0
	CurrentAbsMax = 10000.0
)

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func ValidVoltage(v float64) bool { return finite(v) && v >= 0 && v <= VoltageMax }
func ValidCurrent(v float64) bool { return finite(v) && math.Abs(v) <= CurrentAbsMax }
func ValidCoordinate(lat, lon float64) bool {
	return finite(lat) && finite(lon) && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Sanitize zeroes out implausible fields so the sample can still be sent.
// Returned error lists replaced fields, nil if record was clean.
func Sanitize(r *Record) error {
	var bad []string
	if !ValidVoltage(r.BatteryVoltage) {
		bad = append(bad, "battery_voltage")
		r.BatteryVoltage = 0
	}
	if !ValidCurrent(r.BatteryCurrent) {
		bad = append(bad, "battery_current")
		r.BatteryCurrent = 0
	}
	if !finite(r.BatteryPower) {
		bad = append(bad, "battery_power")
		r.BatteryPower = 0
	}
	if !finite(r.Temperature) {
		bad = append(bad, "temperature")
		r.Temperature = 0
	}
	if !finite(r.Humidity) || r.Humidity < 0 || r.Humidity > 100 {
		bad = append(bad, "humidity")
		r.Humidity = 0
	}
	if !ValidCoordinate(r.Latitude, r.Longitude) {
		bad = append(bad, "gps")
		r.Latitude, r.Longitude = 0, 0
	}
	if !finite(r.Altitude) {
		bad = append(bad, "altitude")
		r.Altitude = 0
	}
	if r.Satellites < 0 {
		bad = append(bad, "satellites")
		r.Satellites = 0
	}
	if len(bad) == 0 {
		return nil
	}
	return errors.NotValidf("telemetry fields %v", bad)
}
