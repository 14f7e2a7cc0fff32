package locator

import (
	"context"
	"net"
	"runtime"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
)

const (
	DefaultSweepTimeout = 150 * time.Millisecond
	DefaultBudget       = 20 * time.Second
	DefaultYieldEvery   = 10
)

// DefaultQuickHosts are host numbers tried first: gateway and common static assignments.
var DefaultQuickHosts = []int{1, 100, 10, 2, 50, 254}

// RangeProbe looks for dashboard in local /24: quick list first,
// then ascending 1..254 skipping hosts already tried and own address.
type RangeProbe struct {
	Log          *log2.Log
	Check        Reachability
	Port         int
	Quick        []int
	QuickTimeout time.Duration
	SweepTimeout time.Duration
	Budget       time.Duration
	YieldEvery   int
	Now          func() time.Time
}

// Candidates is probe order for local address, without own host number.
func (r *RangeProbe) Candidates(local net.IP) ([]net.IP, int) {
	base := local.To4()
	if base == nil {
		return nil, 0
	}
	quick := r.Quick
	if len(quick) == 0 {
		quick = DefaultQuickHosts
	}
	self := int(base[3])
	tried := make(map[int]bool, 256)
	tried[self] = true
	out := make([]net.IP, 0, 254)
	add := func(n int) {
		if n < 1 || n > 254 || tried[n] {
			return
		}
		tried[n] = true
		out = append(out, net.IPv4(base[0], base[1], base[2], byte(n)).To4())
	}
	for _, n := range quick {
		add(n)
	}
	nquick := len(out)
	for n := 1; n <= 254; n++ {
		add(n)
	}
	return out, nquick
}

func (r *RangeProbe) Find(ctx context.Context, local *net.IPNet) (conn.Endpoint, error) {
	if local == nil || local.IP.To4() == nil {
		return conn.Endpoint{}, errors.NotFoundf("local IPv4 address")
	}
	quickTimeout := r.QuickTimeout
	if quickTimeout == 0 {
		quickTimeout = DefaultProbeTimeout
	}
	sweepTimeout := r.SweepTimeout
	if sweepTimeout == 0 {
		sweepTimeout = DefaultSweepTimeout
	}
	budget := r.Budget
	if budget == 0 {
		budget = DefaultBudget
	}
	yieldEvery := r.YieldEvery
	if yieldEvery <= 0 {
		yieldEvery = DefaultYieldEvery
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}

	ips, nquick := r.Candidates(local.IP)
	start := now()
	for i, ip := range ips {
		if i != 0 && i%yieldEvery == 0 {
			runtime.Gosched()
		}
		if err := ctx.Err(); err != nil {
			return conn.Endpoint{}, errors.Annotate(err, "range probe")
		}
		if now().Sub(start) >= budget {
			return conn.Endpoint{}, errors.Timeoutf("range probe budget=%s probed=%d", budget, i)
		}
		timeout := sweepTimeout
		if i < nquick {
			timeout = quickTimeout
		}
		ep := conn.Endpoint{Host: ip.String(), Port: r.Port}
		if err := r.Check.Check(ctx, ep, timeout); err == nil {
			r.Log.Debugf("range probe found %s after %d probes", ep, i+1)
			return ep, nil
		}
	}
	return conn.Endpoint{}, errors.NotFoundf("dashboard in %s/24 port=%d", local.IP, r.Port)
}
