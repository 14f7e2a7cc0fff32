package conn

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/log2"
)

type Locator interface {
	// Discover finds dashboard in local network. local may be nil when unknown.
	Discover(ctx context.Context, local *net.IPNet) (Endpoint, error)
}

type Prober interface {
	// Probe checks that endpoint answers, used to reuse saved address.
	Probe(ctx context.Context, ep Endpoint) error
}

type BrokerConnector interface {
	// Connect performs full handshake including command subscription.
	Connect(ctx context.Context) error
}

type SocketDialer interface {
	Dial(ctx context.Context, ep Endpoint) error
}

type AddressStore interface {
	SaveAddress(host string, port int) error
}

// Machine runs one connection attempt per Step.
// Broker and Socket are optional.
type Machine struct {
	Log     *log2.Log
	State   *State
	Locator Locator
	Prober  Prober
	Broker  BrokerConnector
	Socket  SocketDialer
	Store   AddressStore
	Now     func() time.Time
}

// Step does nothing unless link is up and no channel is up.
// Reports whether an attempt was made.
func (m *Machine) Step(ctx context.Context, local *net.IPNet) bool {
	snap := m.State.Snapshot()
	if !snap.LinkUp || snap.ChannelUp {
		return false
	}
	if snap.Mode == Manual {
		// operator address is trusted, no probing
		if !snap.Endpoint.IsZero() {
			m.State.Established(ChannelAddress)
			m.dialSocket(ctx, snap.Endpoint)
		}
		return false
	}

	var err error
	switch snap.Mode {
	case LastKnown:
		err = m.stepLastKnown(ctx, snap.Endpoint)
	case LocalDiscovery:
		err = m.stepDiscovery(ctx, local)
	case CloudBroker:
		err = m.stepBroker(ctx)
	default:
		panic("code error conn.Machine mode=" + snap.Mode.String())
	}

	o := Success
	if err != nil {
		o = Failure
		m.Log.Errorf("conn mode=%s %v", snap.Mode, err)
	}
	from, to := m.State.attempt(m.now(), o, err)
	if from != to {
		m.Log.Infof("conn mode %s -> %s", from, to)
	}
	return true
}

func (m *Machine) stepLastKnown(ctx context.Context, ep Endpoint) error {
	if ep.IsZero() {
		return DiscoveryError(errors.NotFoundf("saved address"))
	}
	if err := m.Prober.Probe(ctx, ep); err != nil {
		return DiscoveryError(errors.Annotatef(err, "saved address=%s", ep))
	}
	m.State.Established(ChannelAddress)
	m.Log.Infof("conn reusing saved address=%s", ep)
	m.dialSocket(ctx, ep)
	return nil
}

func (m *Machine) stepDiscovery(ctx context.Context, local *net.IPNet) error {
	ep, err := m.Locator.Discover(ctx, local)
	if err != nil {
		return DiscoveryError(errors.Annotate(err, "local discovery"))
	}
	m.State.SetEndpoint(ep)
	m.State.Established(ChannelAddress)
	m.Log.Infof("conn discovered dashboard address=%s", ep)
	if m.Store != nil {
		if err := m.Store.SaveAddress(ep.Host, ep.Port); err != nil {
			// best effort
			perr := PersistenceError(err)
			m.State.Fail(perr)
			m.Log.Errorf("conn %v", perr)
		}
	}
	m.dialSocket(ctx, ep)
	return nil
}

func (m *Machine) stepBroker(ctx context.Context) error {
	if m.Broker == nil {
		return ChannelError(errors.NotSupportedf("broker disabled"))
	}
	if err := m.Broker.Connect(ctx); err != nil {
		return ChannelError(errors.Annotate(err, "broker handshake"))
	}
	m.State.Established(ChannelBroker)
	m.Log.Infof("conn broker session established")
	return nil
}

func (m *Machine) dialSocket(ctx context.Context, ep Endpoint) {
	if m.Socket == nil {
		return
	}
	if err := m.Socket.Dial(ctx, ep); err != nil {
		// HTTP remains usable
		err = ChannelError(errors.Annotate(err, "socket"))
		m.State.Fail(err)
		m.Log.Debugf("conn %v", err)
		return
	}
	m.State.Established(ChannelSocket)
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
