package link

import (
	"context"
	"net"
	"sync"

	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/state"
)

// SimDriver is in-memory radio for bench runs without wireless hardware.
type SimDriver struct {
	mu        sync.Mutex
	up        bool
	ssid      string
	addr      *net.IPNet
	visible   map[string]bool
	reachable map[string]bool
	connects  []string
	Signal    int
}

// NewSimDriver with networks in range, all of them accept connections.
func NewSimDriver(addr *net.IPNet, inRange ...string) *SimDriver {
	d := &SimDriver{
		addr:      addr,
		visible:   make(map[string]bool),
		reachable: make(map[string]bool),
		Signal:    -55,
	}
	for _, s := range inRange {
		d.visible[s] = true
		d.reachable[s] = true
	}
	return d
}

func (d *SimDriver) Status(ctx context.Context) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.up {
		return Status{}, nil
	}
	return Status{Up: true, SSID: d.ssid, Addr: d.addr, SignalDBM: d.Signal}, nil
}

func (d *SimDriver) Scan(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]string, 0, len(d.visible))
	for s, v := range d.visible {
		if v {
			list = append(list, s)
		}
	}
	return list, nil
}

func (d *SimDriver) Connect(ctx context.Context, n state.Network) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects = append(d.connects, n.SSID)
	if !d.reachable[n.SSID] {
		return errors.Errorf("association with ssid=%s timed out", n.SSID)
	}
	d.up, d.ssid = true, n.SSID
	return nil
}

// Drop simulates beacon loss.
func (d *SimDriver) Drop() {
	d.mu.Lock()
	d.up, d.ssid = false, ""
	d.mu.Unlock()
}

// SetRange changes whether network is visible and accepts connections.
func (d *SimDriver) SetRange(ssid string, in bool) {
	d.mu.Lock()
	d.visible[ssid] = in
	d.reachable[ssid] = in
	if !in && d.ssid == ssid {
		d.up, d.ssid = false, ""
	}
	d.mu.Unlock()
}

func (d *SimDriver) Connects() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.connects...)
}
