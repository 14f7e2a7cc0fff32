package locator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/juju/errors"
	"github.com/krti/uavlink/helpers"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReach struct {
	mu       sync.Mutex
	up       map[string]bool
	probed   []string
	timeouts []time.Duration
	clock    *helpers.FakeClock
}

func (f *fakeReach) Check(ctx context.Context, ep conn.Endpoint, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, ep.Host)
	f.timeouts = append(f.timeouts, timeout)
	if f.up[ep.Host] {
		return nil
	}
	if f.clock != nil {
		f.clock.Add(timeout)
	}
	return errors.New("connection refused")
}

func localNet(ip string) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(ip).To4(), Mask: net.CIDRMask(24, 32)}
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	r := &RangeProbe{}
	ips, nquick := r.Candidates(net.ParseIP("192.168.1.100"))
	require.Len(t, ips, 253)
	assert.Equal(t, 5, nquick, "own address is not in quick list")
	expectHead := []string{"192.168.1.1", "192.168.1.10", "192.168.1.2", "192.168.1.50", "192.168.1.254", "192.168.1.3", "192.168.1.4"}
	for i, s := range expectHead {
		assert.Equal(t, s, ips[i].String())
	}
	seen := map[string]bool{}
	for _, ip := range ips {
		assert.False(t, seen[ip.String()], "duplicate %s", ip)
		seen[ip.String()] = true
	}
	assert.False(t, seen["192.168.1.100"])
	assert.Equal(t, "192.168.1.253", ips[len(ips)-1].String())

	ips, _ = r.Candidates(net.ParseIP("::1"))
	assert.Nil(t, ips)
}

func TestRangeProbe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		up    []string
		setup func(*RangeProbe, *fakeReach)
		check func(testing.TB, conn.Endpoint, error, *fakeReach)
	}{
		{"quick-hit", []string{"192.168.1.10"}, nil, func(t testing.TB, ep conn.Endpoint, err error, f *fakeReach) {
			require.NoError(t, err)
			assert.Equal(t, conn.Endpoint{Host: "192.168.1.10", Port: 5000}, ep)
			assert.Equal(t, []string{"192.168.1.1", "192.168.1.10"}, f.probed)
			assert.Equal(t, DefaultProbeTimeout, f.timeouts[0])
		}},
		{"sweep-hit", []string{"192.168.1.77"}, nil, func(t testing.TB, ep conn.Endpoint, err error, f *fakeReach) {
			require.NoError(t, err)
			assert.Equal(t, "192.168.1.77", ep.Host)
			assert.Equal(t, DefaultSweepTimeout, f.timeouts[len(f.timeouts)-1])
			assert.NotContains(t, f.probed, "192.168.1.100")
			// responder at N costs at most N probes plus quick list
			const nquick = 5
			assert.LessOrEqual(t, len(f.probed), 77+nquick)
			assert.Equal(t, "192.168.1.77", f.probed[len(f.probed)-1])
			prev := byte(0)
			for _, h := range f.probed[nquick:] {
				octet := net.ParseIP(h).To4()[3]
				assert.Greater(t, octet, prev, "sweep order at %s", h)
				prev = octet
			}
		}},
		{"nobody", nil, nil, func(t testing.TB, ep conn.Endpoint, err error, f *fakeReach) {
			assert.True(t, errors.IsNotFound(err), "err=%v", err)
			assert.Len(t, f.probed, 253)
		}},
		{"budget", []string{"192.168.1.200"}, func(r *RangeProbe, f *fakeReach) {
			f.clock = helpers.NewFakeClock(time.Unix(0, 0))
			r.Now = f.clock.Now
		}, func(t testing.TB, ep conn.Endpoint, err error, f *fakeReach) {
			// 5 quick probes cost 10s, then 150ms each until 20s
			assert.True(t, errors.IsTimeout(err), "err=%v", err)
			assert.Less(t, len(f.probed), 200)
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeReach{up: map[string]bool{}}
			for _, h := range c.up {
				f.up[h] = true
			}
			r := &RangeProbe{Log: log2.NewTest(t, log2.LDebug), Check: f, Port: 5000}
			if c.setup != nil {
				c.setup(r, f)
			}
			ep, err := r.Find(context.Background(), localNet("192.168.1.100"))
			c.check(t, ep, err, f)
		})
	}
}

func TestRangeProbeCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &RangeProbe{Check: &fakeReach{}, Port: 5000}
	_, err := r.Find(ctx, localNet("10.0.0.5"))
	assert.Equal(t, context.Canceled, errors.Cause(err))

	_, err = r.Find(context.Background(), nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestHTTPReachability(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultHealthPath {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ep := conn.Endpoint{Host: host, Port: port}

	h := &HTTPReachability{}
	assert.NoError(t, h.Probe(context.Background(), ep))
	assert.Error(t, (&HTTPReachability{Path: "/missing"}).Probe(context.Background(), ep))

	srv.Close()
	assert.Error(t, h.Check(context.Background(), ep, 200*time.Millisecond))
}

func TestLocatorOrder(t *testing.T) {
	t.Parallel()

	calls := []string{}
	fail := FinderFunc(func(ctx context.Context, _ *net.IPNet) (conn.Endpoint, error) {
		calls = append(calls, "mdns")
		return conn.Endpoint{}, errors.Timeoutf("mdns")
	})
	hit := FinderFunc(func(ctx context.Context, local *net.IPNet) (conn.Endpoint, error) {
		calls = append(calls, "range")
		return conn.Endpoint{Host: "10.0.0.9", Port: 5000}, nil
	})
	l := New(log2.NewTest(t, log2.LDebug), fail, nil, hit)
	ep, err := l.Discover(context.Background(), localNet("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9:5000", ep.String())
	assert.Equal(t, []string{"mdns", "range"}, calls)

	l = New(nil, fail, fail)
	_, err = l.Discover(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mdns timeout")

	_, err = New(nil).Discover(context.Background(), nil)
	assert.True(t, errors.IsNotFound(err))
}

// Multicast is often unavailable in CI, run with uavlink_test_mdns=1.
func TestServiceProbe(t *testing.T) {
	if os.Getenv("uavlink_test_mdns") != "1" {
		t.Skip("set uavlink_test_mdns=1 to run")
	}
	srv, err := zeroconf.Register("test-dashboard", "_uav-dashboard-test._tcp", "local.", 5055, nil, nil)
	require.NoError(t, err)
	defer srv.Shutdown()

	p := &ServiceProbe{Log: log2.NewTest(t, log2.LDebug), Service: "_uav-dashboard-test._tcp", Timeout: 5 * time.Second}
	ep, err := p.Find(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5055, ep.Port)
}
