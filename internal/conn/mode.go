package conn

import (
	"net"
	"strconv"

	"github.com/juju/errors"
)

// Mode is connection strategy currently pursued by the agent.
type Mode uint8

const (
	ModeInvalid Mode = iota
	LocalDiscovery
	CloudBroker
	LastKnown
	Manual
)

var modeNames = [...]string{
	ModeInvalid:    "invalid",
	LocalDiscovery: "local_discovery",
	CloudBroker:    "cloud_broker",
	LastKnown:      "last_known",
	Manual:         "manual",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if m != int(ModeInvalid) && name == s {
			return Mode(m), nil
		}
	}
	return ModeInvalid, errors.NotValidf("mode=%s", s)
}

type Outcome bool

const (
	Failure Outcome = false
	Success Outcome = true
)

// Next is the whole transition table.
//
//	LastKnown      ok: LastKnown    fail: LocalDiscovery
//	LocalDiscovery ok: LastKnown    fail: CloudBroker
//	CloudBroker    ok: CloudBroker  fail: LocalDiscovery
//	Manual         ok: Manual       fail: Manual
func Next(m Mode, o Outcome) Mode {
	switch m {
	case LastKnown:
		if o == Success {
			return LastKnown
		}
		return LocalDiscovery
	case LocalDiscovery:
		if o == Success {
			return LastKnown
		}
		return CloudBroker
	case CloudBroker:
		if o == Success {
			return CloudBroker
		}
		return LocalDiscovery
	case Manual:
		return Manual
	default:
		panic("code error conn.Next mode=" + m.String())
	}
}

// Endpoint is dashboard address for address-based channels.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) IsZero() bool { return e.Host == "" }

func (e Endpoint) String() string {
	if e.IsZero() {
		return ""
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
