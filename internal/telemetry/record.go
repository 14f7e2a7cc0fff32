// Package telemetry is one sensor sample and its wire encoding.
package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/juju/errors"
)

// MaxEncodedSize is upper bound for one encoded record.
const MaxEncodedSize = 1024

// Record is a flat sample of sensor values, units:
// V, mA, W, °C, %RH, degrees, m, dBm, count, ms since boot.
type Record struct {
	BatteryVoltage float64
	BatteryCurrent float64
	BatteryPower   float64
	Temperature    float64
	Humidity       float64
	Latitude       float64
	Longitude      float64
	Altitude       float64
	SignalStrength int
	Satellites     int
	UptimeMs       uint64
}

// Meta is channel dependent part of payload.
// HTTP uses ConnectionMode, broker and socket use DeviceID and ConnectionType.
type Meta struct {
	DeviceID       string
	ConnectionType string
	ConnectionMode string
}

type fixed struct {
	v    float64
	prec int
}

func (f fixed) MarshalJSON() ([]byte, error) {
	if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
		return nil, errors.NotValidf("number %v", f.v)
	}
	return strconv.AppendFloat(nil, f.v, 'f', f.prec, 64), nil
}

type wire struct {
	DeviceID       string `json:"device_id,omitempty"`
	ConnectionType string `json:"connection_type,omitempty"`
	BatteryVoltage fixed  `json:"battery_voltage"`
	BatteryCurrent fixed  `json:"battery_current"`
	BatteryPower   fixed  `json:"battery_power"`
	Temperature    fixed  `json:"temperature"`
	Humidity       fixed  `json:"humidity"`
	Latitude       fixed  `json:"gps_latitude"`
	Longitude      fixed  `json:"gps_longitude"`
	Altitude       fixed  `json:"altitude"`
	SignalStrength int    `json:"signal_strength"`
	Satellites     int    `json:"satellites"`
	Timestamp      uint64 `json:"timestamp"`
	ConnectionMode string `json:"connection_mode,omitempty"`
}

// Encode renders JSON object with fixed precision per field.
func Encode(r Record, m Meta) ([]byte, error) {
	w := wire{
		DeviceID:       m.DeviceID,
		ConnectionType: m.ConnectionType,
		BatteryVoltage: fixed{r.BatteryVoltage, 2},
		BatteryCurrent: fixed{r.BatteryCurrent, 2},
		BatteryPower:   fixed{r.BatteryPower, 2},
		Temperature:    fixed{r.Temperature, 1},
		Humidity:       fixed{r.Humidity, 1},
		Latitude:       fixed{r.Latitude, 6},
		Longitude:      fixed{r.Longitude, 6},
		Altitude:       fixed{r.Altitude, 1},
		SignalStrength: r.SignalStrength,
		Satellites:     r.Satellites,
		Timestamp:      r.UptimeMs,
		ConnectionMode: m.ConnectionMode,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Annotate(err, "telemetry encode")
	}
	if len(b) > MaxEncodedSize {
		return nil, errors.NotValidf("telemetry encoded size=%d", len(b))
	}
	return b, nil
}

// Decoded is what a receiver sees, used by console and tests.
type Decoded struct {
	Record
	Meta
}

func Decode(b []byte) (Decoded, error) {
	var raw struct {
		DeviceID       string  `json:"device_id"`
		ConnectionType string  `json:"connection_type"`
		ConnectionMode string  `json:"connection_mode"`
		BatteryVoltage float64 `json:"battery_voltage"`
		BatteryCurrent float64 `json:"battery_current"`
		BatteryPower   float64 `json:"battery_power"`
		Temperature    float64 `json:"temperature"`
		Humidity       float64 `json:"humidity"`
		Latitude       float64 `json:"gps_latitude"`
		Longitude      float64 `json:"gps_longitude"`
		Altitude       float64 `json:"altitude"`
		SignalStrength int     `json:"signal_strength"`
		Satellites     int     `json:"satellites"`
		Timestamp      uint64  `json:"timestamp"`
	}
	d := json.NewDecoder(bytes.NewReader(b))
	if err := d.Decode(&raw); err != nil {
		return Decoded{}, errors.Annotate(err, "telemetry decode")
	}
	return Decoded{
		Record: Record{
			BatteryVoltage: raw.BatteryVoltage,
			BatteryCurrent: raw.BatteryCurrent,
			BatteryPower:   raw.BatteryPower,
			Temperature:    raw.Temperature,
			Humidity:       raw.Humidity,
			Latitude:       raw.Latitude,
			Longitude:      raw.Longitude,
			Altitude:       raw.Altitude,
			SignalStrength: raw.SignalStrength,
			Satellites:     raw.Satellites,
			UptimeMs:       raw.Timestamp,
		},
		Meta: Meta{
			DeviceID:       raw.DeviceID,
			ConnectionType: raw.ConnectionType,
			ConnectionMode: raw.ConnectionMode,
		},
	}, nil
}
