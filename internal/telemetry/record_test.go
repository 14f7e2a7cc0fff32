package telemetry

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = Record{
	BatteryVoltage: 12.3456,
	BatteryCurrent: 1500.126,
	BatteryPower:   18.519,
	Temperature:    28.46,
	Humidity:       71.04,
	Latitude:       -5.3584001234,
	Longitude:      105.3117,
	Altitude:       120.24,
	SignalStrength: -67,
	Satellites:     11,
	UptimeMs:       123456,
}

func TestEncode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		meta   Meta
		expect string
	}{
		{"http", Meta{ConnectionMode: "last_known"},
			`{"battery_voltage":12.35,"battery_current":1500.13,"battery_power":18.52,` +
				`"temperature":28.5,"humidity":71.0,"gps_latitude":-5.358400,"gps_longitude":105.311700,` +
				`"altitude":120.2,"signal_strength":-67,"satellites":11,"timestamp":123456,"connection_mode":"last_known"}`},
		{"broker", Meta{DeviceID: "krti-07", ConnectionType: "mqtt"},
			`{"device_id":"krti-07","connection_type":"mqtt","battery_voltage":12.35,"battery_current":1500.13,"battery_power":18.52,` +
				`"temperature":28.5,"humidity":71.0,"gps_latitude":-5.358400,"gps_longitude":105.311700,` +
				`"altitude":120.2,"signal_strength":-67,"satellites":11,"timestamp":123456}`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			b, err := Encode(sample, c.meta)
			require.NoError(t, err)
			assert.JSONEq(t, c.expect, string(b))
			assert.True(t, json.Valid(b))

			d, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, c.meta, d.Meta)
			// declared precision: 2 decimals for battery, 1 for climate and altitude, 6 for position
			assert.InDelta(t, sample.BatteryVoltage, d.BatteryVoltage, 0.005)
			assert.InDelta(t, sample.BatteryCurrent, d.BatteryCurrent, 0.005)
			assert.InDelta(t, sample.BatteryPower, d.BatteryPower, 0.005)
			assert.InDelta(t, sample.Temperature, d.Temperature, 0.05)
			assert.InDelta(t, sample.Humidity, d.Humidity, 0.05)
			assert.InDelta(t, sample.Altitude, d.Altitude, 0.05)
			assert.InDelta(t, sample.Latitude, d.Latitude, 5e-7)
			assert.InDelta(t, sample.Longitude, d.Longitude, 5e-7)
			assert.Equal(t, sample.SignalStrength, d.SignalStrength)
			assert.Equal(t, sample.Satellites, d.Satellites)
			assert.Equal(t, sample.UptimeMs, d.UptimeMs)
		})
	}
}

func TestEncodeRejectsNaN(t *testing.T) {
	t.Parallel()
	r := sample
	r.Temperature = math.NaN()
	_, err := Encode(r, Meta{})
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		mod   func(*Record)
		check func(testing.TB, Record)
		bad   bool
	}{
		{"clean", func(*Record) {}, func(t testing.TB, r Record) { assert.Equal(t, sample, r) }, false},
		{"voltage-negative", func(r *Record) { r.BatteryVoltage = -1 },
			func(t testing.TB, r Record) { assert.Equal(t, 0.0, r.BatteryVoltage) }, true},
		{"voltage-high", func(r *Record) { r.BatteryVoltage = 100 },
			func(t testing.TB, r Record) { assert.Equal(t, 0.0, r.BatteryVoltage) }, true},
		{"current-extreme", func(r *Record) { r.BatteryCurrent = -20000 },
			func(t testing.TB, r Record) { assert.Equal(t, 0.0, r.BatteryCurrent) }, true},
		{"nan-temperature", func(r *Record) { r.Temperature = math.NaN() },
			func(t testing.TB, r Record) {
				assert.Equal(t, 0.0, r.Temperature)
				assert.Equal(t, sample.Humidity, r.Humidity, "other fields intact")
			}, true},
		{"gps-lat", func(r *Record) { r.Latitude = 91 },
			func(t testing.TB, r Record) { assert.Equal(t, 0.0, r.Latitude); assert.Equal(t, 0.0, r.Longitude) }, true},
		{"gps-lon", func(r *Record) { r.Longitude = -181 },
			func(t testing.TB, r Record) { assert.Equal(t, 0.0, r.Longitude) }, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			r := sample
			c.mod(&r)
			err := Sanitize(&r)
			assert.Equal(t, c.bad, err != nil, "err=%v", err)
			c.check(t, r)
			_, err = Encode(r, Meta{})
			assert.NoError(t, err)
		})
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()
	assert.True(t, ValidVoltage(12))
	assert.False(t, ValidVoltage(math.NaN()))
	assert.True(t, ValidCurrent(150))
	assert.True(t, ValidCoordinate(-5.3584, 105.3117))
	assert.True(t, ValidCoordinate(0, 0))
	assert.False(t, ValidCoordinate(-91, 0))
	assert.False(t, ValidCoordinate(0, 181))
}

func TestSimSensor(t *testing.T) {
	t.Parallel()

	boot := time.Unix(1000, 0)
	s := NewSimSensor(boot)
	r, err := s.Read(boot.Add(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(90000), r.UptimeMs)
	assert.Equal(t, -60, r.SignalStrength)
	assert.NoError(t, Sanitize(&r))

	again, _ := s.Read(boot.Add(90 * time.Second))
	assert.Equal(t, r, again)
}
