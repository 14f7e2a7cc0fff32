package conn

import (
	"sync"
	"time"
)

// Channel identifies outbound data channel.
type Channel uint8

const (
	ChannelBroker  Channel = iota + 1 // MQTT session
	ChannelSocket                     // persistent bidirectional socket to dashboard
	ChannelAddress                    // HTTP POST to dashboard
)

func (c Channel) String() string {
	switch c {
	case ChannelBroker:
		return "broker"
	case ChannelSocket:
		return "socket"
	case ChannelAddress:
		return "http"
	}
	return "unknown"
}

// State is connection state of the agent.
// Fields change only through named transitions,
// channelUp is derived so it can not be true while link is down.
type State struct {
	mu          sync.Mutex
	mode        Mode
	endpoint    Endpoint
	linkUp      bool
	brokerUp    bool
	socketUp    bool
	addressUp   bool
	lastError   error
	lastAttempt time.Time
	attempts    uint32
}

// Snapshot is consistent copy for diagnostics.
type Snapshot struct {
	Mode        Mode
	Endpoint    Endpoint
	LinkUp      bool
	BrokerUp    bool
	SocketUp    bool
	AddressUp   bool
	ChannelUp   bool
	LastError   error
	LastAttempt time.Time
	Attempts    uint32
}

func NewState(mode Mode, ep Endpoint) *State {
	return &State{mode: mode, endpoint: ep}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Mode:        s.mode,
		Endpoint:    s.endpoint,
		LinkUp:      s.linkUp,
		BrokerUp:    s.linkUp && s.brokerUp,
		SocketUp:    s.linkUp && s.socketUp,
		AddressUp:   s.linkUp && s.addressUp,
		ChannelUp:   s.channelUp(),
		LastError:   s.lastError,
		LastAttempt: s.lastAttempt,
		Attempts:    s.attempts,
	}
}

func (s *State) channelUp() bool {
	return s.linkUp && (s.brokerUp || s.socketUp || s.addressUp)
}

func (s *State) ChannelUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelUp()
}

func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *State) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Up reports whether channel is established and usable.
func (s *State) Up(c Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.linkUp {
		return false
	}
	switch c {
	case ChannelBroker:
		return s.brokerUp
	case ChannelSocket:
		return s.socketUp
	case ChannelAddress:
		return s.addressUp
	}
	return false
}

func (s *State) LinkUp() {
	s.mu.Lock()
	s.linkUp = true
	s.mu.Unlock()
}

// LinkDown clears every channel.
func (s *State) LinkDown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkUp = false
	s.brokerUp, s.socketUp, s.addressUp = false, false, false
	if err != nil {
		s.lastError = err
	}
}

// Established marks channel usable. Success clears lastError,
// problems recorded after it within the same step are kept.
func (s *State) Established(c Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = nil
	switch c {
	case ChannelBroker:
		s.brokerUp = true
	case ChannelSocket:
		s.socketUp = true
	case ChannelAddress:
		s.addressUp = true
	default:
		panic("code error conn.Established channel=" + c.String())
	}
}

// Drop clears one channel flag, link state is not touched.
func (s *State) Drop(c Channel, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c {
	case ChannelBroker:
		s.brokerUp = false
	case ChannelSocket:
		s.socketUp = false
	case ChannelAddress:
		s.addressUp = false
	}
	if err != nil {
		s.lastError = err
	}
}

func (s *State) SetEndpoint(ep Endpoint) {
	s.mu.Lock()
	s.endpoint = ep
	s.mu.Unlock()
}

// SetMode is operator override, Manual freezes the machine.
func (s *State) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// attempt records one machine step and applies transition table.
func (s *State) attempt(now time.Time, o Outcome, err error) (from, to Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = now
	s.attempts++
	if err != nil {
		s.lastError = err
	}
	from = s.mode
	s.mode = Next(from, o)
	return from, s.mode
}

func (s *State) Fail(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}
