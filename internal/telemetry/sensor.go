package telemetry

import (
	"math"
	"sync"
	"time"
)

// Sensor is external acquisition source, one Record per call.
type Sensor interface {
	Read(now time.Time) (Record, error)
}

type SensorFunc func(now time.Time) (Record, error)

func (f SensorFunc) Read(now time.Time) (Record, error) { return f(now) }

// SimSensor produces plausible values for bench runs without hardware.
// Output depends only on time since Boot.
type SimSensor struct {
	mu   sync.Mutex
	Boot time.Time
	// Base position, default is campus airfield
	Lat, Lon float64
}

func NewSimSensor(boot time.Time) *SimSensor {
	return &SimSensor{Boot: boot, Lat: -5.358400, Lon: 105.311700}
}

func (s *SimSensor) Read(now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	up := now.Sub(s.Boot)
	if up < 0 {
		up = 0
	}
	sec := up.Seconds()
	// 4S pack draining 0.5 V per hour down to 13.2 V
	voltage := math.Max(16.8-sec/7200, 13.2)
	current := 850 + 150*math.Sin(sec/10)
	r := Record{
		BatteryVoltage: voltage,
		BatteryCurrent: current,
		BatteryPower:   voltage * current / 1000,
		Temperature:    29 + 2*math.Sin(sec/300),
		Humidity:       70 + 5*math.Cos(sec/600),
		Latitude:       s.Lat + 0.0005*math.Sin(sec/60),
		Longitude:      s.Lon + 0.0005*math.Cos(sec/60),
		Altitude:       50 + 10*math.Sin(sec/30),
		// placeholder, dispatcher fills in link RSSI
		SignalStrength: -60,
		Satellites:     9,
		UptimeMs:       uint64(up / time.Millisecond),
	}
	return r, nil
}
