// Package dispatch sends sampled telemetry over the best established channel.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/channel"
	"github.com/krti/uavlink/internal/command"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/internal/telemetry"
	"github.com/krti/uavlink/log2"
)

const DefaultInterval = time.Second

type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	PublishAck(ctx context.Context, payload []byte) error
}

type EventSender interface {
	Send(event string, payload []byte) error
}

type Poster interface {
	Send(ctx context.Context, ep conn.Endpoint, payload []byte) error
}

// order of preference
var channels = [...]conn.Channel{conn.ChannelBroker, conn.ChannelSocket, conn.ChannelAddress}

type Stats struct {
	// Packets wraps around at 2^32.
	Packets     uint32
	Dropped     uint32
	SendErrors  uint32
	Acks        uint32
	LastSent    time.Time
	LastChannel conn.Channel
}

type Options struct {
	DeviceID string
	Interval time.Duration
	Broker   Publisher
	Socket   EventSender
	Address  Poster
	Acks     <-chan command.Ack
	// LinkSignal, when set, replaces sensor signal_strength with link RSSI in dBm.
	LinkSignal func() int
}

// Dispatcher is driven by agent loop, Tick must not be called concurrently.
type Dispatcher struct {
	log    *log2.Log
	state  *conn.State
	sensor telemetry.Sensor
	opt    Options

	mu    sync.Mutex
	stats Stats
}

func New(log *log2.Log, state *conn.State, sensor telemetry.Sensor, opt Options) *Dispatcher {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	return &Dispatcher{log: log, state: state, sensor: sensor, opt: opt}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Due reports whether interval since last successful send has passed.
func (d *Dispatcher) Due(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats.LastSent.IsZero() || now.Sub(d.stats.LastSent) >= d.opt.Interval
}

// Tick forwards pending command acks and, when due, sends one fresh record.
// Returns channel used or 0 when nothing was sent.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) conn.Channel {
	d.drainAcks(ctx)
	if !d.Due(now) || !d.state.ChannelUp() {
		return 0
	}
	r, err := d.sensor.Read(now)
	if err != nil {
		d.log.Errorf("dispatch sensor: %v", errors.ErrorStack(err))
		return 0
	}
	if d.opt.LinkSignal != nil {
		r.SignalStrength = d.opt.LinkSignal()
	}
	if err = telemetry.Sanitize(&r); err != nil {
		d.log.Debugf("dispatch %v", err)
	}
	for _, c := range channels {
		if !d.state.Up(c) || !d.has(c) {
			continue
		}
		err = d.send(ctx, c, r)
		if err == nil {
			d.mu.Lock()
			d.stats.Packets++
			d.stats.LastSent = now
			d.stats.LastChannel = c
			d.mu.Unlock()
			return c
		}
		d.log.Errorf("dispatch %v", err)
		if conn.KindOf(err) != conn.KindSend {
			break
		}
		d.state.Drop(c, err)
		d.mu.Lock()
		d.stats.SendErrors++
		d.mu.Unlock()
	}
	d.mu.Lock()
	d.stats.Dropped++
	d.mu.Unlock()
	return 0
}

func (d *Dispatcher) has(c conn.Channel) bool {
	switch c {
	case conn.ChannelBroker:
		return d.opt.Broker != nil
	case conn.ChannelSocket:
		return d.opt.Socket != nil
	case conn.ChannelAddress:
		return d.opt.Address != nil
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, c conn.Channel, r telemetry.Record) error {
	var m telemetry.Meta
	switch c {
	case conn.ChannelBroker:
		m = telemetry.Meta{DeviceID: d.opt.DeviceID, ConnectionType: "mqtt"}
	case conn.ChannelSocket:
		m = telemetry.Meta{DeviceID: d.opt.DeviceID, ConnectionType: "socket"}
	default:
		m = telemetry.Meta{ConnectionMode: d.state.Mode().String()}
	}
	payload, err := telemetry.Encode(r, m)
	if err != nil {
		// same for every channel
		return errors.Annotate(err, "encode")
	}
	switch c {
	case conn.ChannelBroker:
		err = d.opt.Broker.Publish(ctx, payload)
	case conn.ChannelSocket:
		err = d.opt.Socket.Send(channel.EventTelemetry, payload)
	default:
		err = d.opt.Address.Send(ctx, d.state.Endpoint(), payload)
	}
	if err != nil {
		return conn.SendError(errors.Annotatef(err, "channel=%s", c))
	}
	return nil
}

func (d *Dispatcher) drainAcks(ctx context.Context) {
	for {
		select {
		case a := <-d.opt.Acks:
			d.sendAck(ctx, a)
		default:
			return
		}
	}
}

func (d *Dispatcher) sendAck(ctx context.Context, a command.Ack) {
	payload, err := a.Encode()
	if err != nil {
		d.log.Errorf("dispatch ack encode: %v", err)
		return
	}
	if d.state.Up(conn.ChannelSocket) && d.opt.Socket != nil {
		if err = d.opt.Socket.Send(channel.EventCommandAck, payload); err == nil {
			d.countAck()
			return
		}
		d.state.Drop(conn.ChannelSocket, conn.SendError(err))
	}
	if d.state.Up(conn.ChannelBroker) && d.opt.Broker != nil {
		if err = d.opt.Broker.PublishAck(ctx, payload); err == nil {
			d.countAck()
			return
		}
		d.state.Drop(conn.ChannelBroker, conn.SendError(err))
	}
	d.log.Debugf("dispatch ack cmd=%s dropped, no bidirectional channel", a.Command)
}

func (d *Dispatcher) countAck() {
	d.mu.Lock()
	d.stats.Acks++
	d.mu.Unlock()
}
