// Package agent wires link, connection machine, dispatcher and command intake
// into single cooperative control loop.
package agent

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/helpers"
	"github.com/krti/uavlink/internal/channel"
	"github.com/krti/uavlink/internal/command"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/internal/dispatch"
	"github.com/krti/uavlink/internal/link"
	"github.com/krti/uavlink/internal/locator"
	"github.com/krti/uavlink/internal/persist"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/internal/telemetry"
	"github.com/krti/uavlink/log2"
)

const (
	DefaultTick = 100 * time.Millisecond

	ackBuffer = 16
)

// SimAddr is local address reported by simulated link driver.
var SimAddr = &net.IPNet{IP: net.IPv4(192, 168, 4, 2).To4(), Mask: net.CIDRMask(24, 32)}

// Deps overrides collaborators normally built from config.
type Deps struct {
	Driver    link.Driver
	Sensor    telemetry.Sensor
	Transport http.RoundTripper
	Finders   []locator.Finder
	Relay     *command.RelayExecutor
	Now       func() time.Time
	Tick      time.Duration
}

type Agent struct {
	log    *log2.Log
	config *state.Config
	now    func() time.Time
	tick   time.Duration

	State      *conn.State
	Store      *persist.Store
	Driver     link.Driver
	Monitor    *link.Monitor
	Machine    *conn.Machine
	Dispatcher *dispatch.Dispatcher
	Intake     *command.Intake
	Relay      *command.RelayExecutor
	Address    *channel.Address
	Socket     *channel.Socket // nil when disabled
	Broker     *channel.Broker // nil when disabled

	// loop serializes Step with operator actions
	loop     sync.Mutex
	mu       sync.Mutex
	lastPoll link.Poll
	started  time.Time
}

func New(log *log2.Log, config *state.Config, deps Deps) (*Agent, error) {
	a := &Agent{
		log:    log,
		config: config,
		now:    deps.Now,
		tick:   deps.Tick,
		Relay:  deps.Relay,
		Driver: deps.Driver,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.tick == 0 {
		a.tick = DefaultTick
	}
	if a.Relay == nil {
		a.Relay = &command.RelayExecutor{}
	}
	a.started = a.now()

	a.Store = persist.NewStore(config.Persist.Root, log.Named("persist"))
	saved := a.Store.Load()

	if a.Driver == nil {
		var err error
		if a.Driver, err = NewDriver(config); err != nil {
			return nil, err
		}
	}
	a.Monitor = link.NewMonitor(log.Named("link"), a.Driver, link.Options{
		Networks:       config.Link.Networks,
		Store:          a.Store,
		ConnectTimeout: helpers.IntSecondDefault(config.Link.ConnectTimeoutSec, link.DefaultConnectTimeout),
		CooldownMin:    helpers.IntSecondDefault(config.Link.CooldownMinSec, link.DefaultCooldownMin),
		CooldownMax:    helpers.IntSecondDefault(config.Link.CooldownMaxSec, link.DefaultCooldownMax),
		Now:            a.now,
	})

	mode, ep := InitialMode(config, saved)
	a.State = conn.NewState(mode, ep)
	log.Infof("agent initial mode=%s address=%s", mode, ep)

	acks := make(chan command.Ack, ackBuffer)
	intake, err := command.NewIntake(log.Named("command"), command.Options{
		JournalPath: config.Command.JournalPath,
		MaxLength:   config.Command.MaxLength,
		Executor:    a.Relay,
		Acks:        acks,
	})
	if err != nil {
		return nil, errors.Annotate(err, "agent")
	}
	a.Intake = intake

	timeout := helpers.IntMillisecondDefault(config.Dashboard.TimeoutMs, channel.DefaultHTTPTimeout)
	a.Address = channel.NewAddress(log.Named("http"), config.Dashboard.TelemetryPath, timeout, deps.Transport)
	if config.Dashboard.SocketEnable {
		a.Socket = channel.NewSocket(log.Named("socket"), config.Dashboard.SocketPath, timeout, intake.Sink)
	}
	if config.Broker.Enable {
		a.Broker, err = channel.NewBroker(log.Named("broker"), channel.BrokerConfig{
			URL:            config.Broker.URL,
			ClientID:       config.DeviceID(),
			Username:       config.Broker.Username,
			Password:       config.Broker.Password,
			TLSCAFile:      config.Broker.TLSCAFile,
			TopicPrefix:    config.TopicPrefix(),
			ConnectTimeout: helpers.IntSecondDefault(config.Broker.ConnectTimeoutSec, channel.DefaultBrokerTimeout),
			Keepalive:      helpers.IntSecondDefault(config.Broker.KeepaliveSec, 0),
		}, intake.Sink)
		if err != nil {
			intake.Close()
			return nil, errors.Annotate(err, "agent")
		}
	}

	reach := NewReachability(config, deps.Transport)
	finders := deps.Finders
	if finders == nil {
		finders = DefaultFinders(log, config, reach, a.now)
	}
	a.Machine = &conn.Machine{
		Log:     log.Named("conn"),
		State:   a.State,
		Locator: locator.New(log.Named("locator"), finders...),
		Prober:  reach,
		Store:   a.Store,
		Now:     a.now,
	}
	// typed nil must not leak into interface
	dopt := dispatch.Options{
		DeviceID: config.DeviceID(),
		Interval: config.TelemetryInterval(),
		Address:  a.Address,
		Acks:     acks,
		// Tick runs inside Step right after Poll
		LinkSignal: func() int { return a.Monitor.Last().SignalDBM },
	}
	if a.Broker != nil {
		a.Machine.Broker = a.Broker
		dopt.Broker = a.Broker
	}
	if a.Socket != nil {
		a.Machine.Socket = a.Socket
		dopt.Socket = a.Socket
	}

	sensor := deps.Sensor
	if sensor == nil {
		if sensor, err = NewSensor(config, a.started); err != nil {
			intake.Close()
			return nil, err
		}
	}
	a.Dispatcher = dispatch.New(log.Named("dispatch"), a.State, sensor, dopt)
	return a, nil
}

// NewDriver picks link driver by link.driver config value.
func NewDriver(config *state.Config) (link.Driver, error) {
	switch config.Link.Driver {
	case "", "nmcli":
		return link.NewNmcliDriver(config.Link.Interface), nil
	case "sim":
		ssids := make([]string, len(config.Link.Networks))
		for i, n := range config.Link.Networks {
			ssids[i] = n.SSID
		}
		return link.NewSimDriver(SimAddr, ssids...), nil
	}
	return nil, errors.NotSupportedf("link.driver=%s", config.Link.Driver)
}

// NewSensor picks sensor source by telemetry.sensor config value.
// Only simulated source is built in, hardware sensors come through Deps.
func NewSensor(config *state.Config, boot time.Time) (telemetry.Sensor, error) {
	switch config.Telemetry.Sensor {
	case "", "sim":
		return telemetry.NewSimSensor(boot), nil
	}
	return nil, errors.NotSupportedf("telemetry.sensor=%s", config.Telemetry.Sensor)
}

func NewReachability(config *state.Config, rt http.RoundTripper) *locator.HTTPReachability {
	return &locator.HTTPReachability{
		Path:      config.Discovery.HealthPath,
		Timeout:   helpers.IntMillisecondDefault(config.Discovery.ProbeTimeoutMs, locator.DefaultProbeTimeout),
		Transport: rt,
	}
}

// DefaultFinders is mDNS query followed by subnet sweep.
func DefaultFinders(log *log2.Log, config *state.Config, reach locator.Reachability, now func() time.Time) []locator.Finder {
	d := &config.Discovery
	return []locator.Finder{
		&locator.ServiceProbe{
			Log:         log.Named("mdns"),
			Instance:    config.DeviceID(),
			SelfService: d.SelfService,
			Service:     d.Service,
			Domain:      d.Domain,
			Timeout:     helpers.IntSecondDefault(d.TimeoutSec, locator.DefaultMDNSTimeout),
		},
		&locator.RangeProbe{
			Log:          log.Named("sweep"),
			Check:        reach,
			Port:         config.DashboardPort(),
			Quick:        d.QuickHosts,
			QuickTimeout: helpers.IntMillisecondDefault(d.ProbeTimeoutMs, locator.DefaultProbeTimeout),
			SweepTimeout: helpers.IntMillisecondDefault(d.SweepTimeoutMs, locator.DefaultSweepTimeout),
			Budget:       helpers.IntSecondDefault(d.BudgetSec, locator.DefaultBudget),
			YieldEvery:   d.YieldEvery,
			Now:          now,
		},
	}
}

// InitialMode: operator endpoint wins, then saved address, otherwise discovery.
func InitialMode(config *state.Config, saved persist.Record) (conn.Mode, conn.Endpoint) {
	if config.Manual.Enable {
		return conn.Manual, conn.Endpoint{Host: config.Manual.Host, Port: config.Manual.Port}
	}
	if saved.HasAddress() {
		return conn.LastKnown, conn.Endpoint{Host: saved.Host, Port: saved.Port}
	}
	return conn.LocalDiscovery, conn.Endpoint{}
}

func (a *Agent) Close() {
	if a.Socket != nil {
		a.Socket.Close()
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	a.Intake.Close()
}

// Step is one loop iteration: link poll, at most one connection attempt, telemetry tick.
func (a *Agent) Step(ctx context.Context) {
	a.loop.Lock()
	defer a.loop.Unlock()
	p := a.Monitor.Poll(ctx)
	a.mu.Lock()
	a.lastPoll = p
	a.mu.Unlock()

	if !p.Up {
		if a.State.Snapshot().LinkUp {
			a.State.LinkDown(p.Err)
			a.closeSessions()
		} else if p.Err != nil {
			a.State.Fail(p.Err)
		}
		return
	}
	if p.JustChanged {
		// lost and regained within one poll also invalidates channels
		a.State.LinkDown(nil)
		a.closeSessions()
		a.State.LinkUp()
	}
	a.checkSessions()
	a.Machine.Step(ctx, p.Status.Addr)
	a.Dispatcher.Tick(ctx, a.now())
}

func (a *Agent) closeSessions() {
	if a.Socket != nil {
		a.Socket.Close()
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
}

// checkSessions notices persistent sessions closed by remote side.
func (a *Agent) checkSessions() {
	if a.Broker != nil && a.State.Up(conn.ChannelBroker) && !a.Broker.Connected() {
		a.State.Drop(conn.ChannelBroker, conn.SendError(errors.New("broker session lost")))
		a.log.Infof("agent broker session lost")
	}
	if a.Socket != nil && a.State.Up(conn.ChannelSocket) && !a.Socket.Connected() {
		a.State.Drop(conn.ChannelSocket, conn.SendError(errors.New("socket closed")))
		a.log.Infof("agent socket closed")
	}
}

// Run loops until ctx is done. onTick is called after each Step, e.g. watchdog ping.
func (a *Agent) Run(ctx context.Context, onTick func()) error {
	tmr := time.NewTicker(a.tick)
	defer tmr.Stop()
	for {
		a.Step(ctx)
		if onTick != nil {
			onTick()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tmr.C:
		}
	}
}

// SetManual switches to operator supplied endpoint, zero endpoint resumes discovery.
func (a *Agent) SetManual(ep conn.Endpoint) {
	a.loop.Lock()
	defer a.loop.Unlock()
	a.State.SetEndpoint(ep)
	if ep.IsZero() {
		a.forceMode(conn.LocalDiscovery)
	} else {
		a.forceMode(conn.Manual)
	}
}

// ForceMode drops every channel and restarts machine from mode on next Step.
func (a *Agent) ForceMode(m conn.Mode) {
	a.loop.Lock()
	defer a.loop.Unlock()
	a.forceMode(m)
}

func (a *Agent) forceMode(m conn.Mode) {
	a.closeSessions()
	a.State.Drop(conn.ChannelAddress, nil)
	a.State.Drop(conn.ChannelSocket, nil)
	a.State.Drop(conn.ChannelBroker, nil)
	a.State.SetMode(m)
	a.log.Infof("agent operator mode=%s address=%s", m, a.State.Endpoint())
}
