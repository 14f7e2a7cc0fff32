package agent

import (
	"fmt"
	"io"
	"time"

	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/internal/dispatch"
	"github.com/krti/uavlink/internal/link"
)

// Snapshot is diagnostics view for console and logs.
type Snapshot struct {
	Conn      conn.Snapshot
	Link      link.Status
	Cooldown  time.Duration
	Dispatch  dispatch.Stats
	RelayOn   bool
	Uptime    time.Duration
	Saved     string
	CredIndex int
}

func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	p := a.lastPoll
	a.mu.Unlock()
	saved := a.Store.Current()
	return Snapshot{
		Conn:      a.State.Snapshot(),
		Link:      p.Status,
		Cooldown:  a.Monitor.Cooldown(),
		Dispatch:  a.Dispatcher.Stats(),
		RelayOn:   a.Relay.On(),
		Uptime:    a.now().Sub(a.started),
		Saved:     saved.Address(),
		CredIndex: saved.CredIndex,
	}
}

func (s Snapshot) Write(w io.Writer) {
	c := s.Conn
	fmt.Fprintf(w, "uptime=%s mode=%s address=%s attempts=%d\n", s.Uptime.Truncate(time.Second), c.Mode, c.Endpoint, c.Attempts)
	fmt.Fprintf(w, "link up=%t ssid=%s addr=%v signal=%ddBm cooldown=%s\n", c.LinkUp, s.Link.SSID, s.Link.Addr, s.Link.SignalDBM, s.Cooldown)
	fmt.Fprintf(w, "channel up=%t broker=%t socket=%t http=%t\n", c.ChannelUp, c.BrokerUp, c.SocketUp, c.AddressUp)
	d := s.Dispatch
	fmt.Fprintf(w, "packets=%d dropped=%d send_errors=%d acks=%d last=%s\n", d.Packets, d.Dropped, d.SendErrors, d.Acks, d.LastChannel)
	fmt.Fprintf(w, "saved address=%s credential=%d relay_on=%t\n", s.Saved, s.CredIndex, s.RelayOn)
	if c.LastError != nil {
		fmt.Fprintf(w, "last error: %v\n", c.LastError)
	}
}
