package link

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/helpers"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNetworks = []state.Network{
	{SSID: "field-ap", Secret: "password1"},
	{SSID: "gcs-hotspot", Secret: "hotspot-key"},
	{SSID: "backup", Secret: "backup-key"},
}

type memCred struct {
	index int
	saves []int
	err   error
}

func (m *memCred) PreferredCredential() int { return m.index }
func (m *memCred) SaveCredential(i int) error {
	m.saves = append(m.saves, i)
	if m.err == nil {
		m.index = i
	}
	return m.err
}

func testAddr() *net.IPNet {
	return &net.IPNet{IP: net.ParseIP("192.168.1.100").To4(), Mask: net.CIDRMask(24, 32)}
}

func TestOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		preferred int
		visible   []string
		expect    []int
	}{
		{"no-scan", -1, nil, []int{0, 1, 2}},
		{"preferred-first", 2, nil, []int{2, 0, 1}},
		{"filter-visible", -1, []string{"backup", "neighbour"}, []int{2}},
		{"preferred-not-visible", 0, []string{"gcs-hotspot", "backup"}, []int{1, 2}},
		{"preferred-out-of-range", 7, nil, []int{0, 1, 2}},
		{"nothing-visible", 1, []string{"neighbour"}, []int{}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, Order(testNetworks, c.preferred, c.visible))
		})
	}
}

func TestMonitor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := helpers.NewFakeClock(time.Unix(100, 0))
	drv := NewSimDriver(testAddr(), "gcs-hotspot", "backup")
	cred := &memCred{index: -1}
	m := NewMonitor(log2.NewTest(t, log2.LDebug), drv, Options{
		Networks: testNetworks, Store: cred, Now: clock.Now,
	})

	p := m.Poll(ctx)
	require.True(t, p.Up, "err=%v", p.Err)
	assert.True(t, p.JustChanged)
	assert.Equal(t, "gcs-hotspot", p.Status.SSID)
	assert.Equal(t, []int{1}, cred.saves, "winning index persisted")
	assert.Equal(t, []string{"gcs-hotspot"}, drv.Connects(), "field-ap not visible, skipped")

	p = m.Poll(ctx)
	assert.True(t, p.Up)
	assert.False(t, p.JustChanged)

	// beacon lost, reconnect in same poll to preferred network
	drv.Drop()
	p = m.Poll(ctx)
	assert.True(t, p.Up)
	assert.True(t, p.JustChanged, "lost and regained must be reported")
	assert.Equal(t, []string{"gcs-hotspot", "gcs-hotspot"}, drv.Connects())
	assert.Equal(t, []int{1}, cred.saves, "same index not rewritten")

	// everything out of range: failure, then cooldown
	drv.SetRange("gcs-hotspot", false)
	drv.SetRange("backup", false)
	p = m.Poll(ctx)
	assert.False(t, p.Up)
	assert.True(t, p.JustChanged)
	assert.Equal(t, conn.KindLink, conn.KindOf(p.Err))
	assert.Equal(t, DefaultCooldownMin, m.Cooldown())

	n := len(drv.Connects())
	p = m.Poll(ctx)
	assert.False(t, p.Up)
	assert.False(t, p.JustChanged)
	assert.Nil(t, p.Err)
	assert.Equal(t, n, len(drv.Connects()), "no radio work during cooldown")

	clock.Add(DefaultCooldownMin)
	drv.SetRange("backup", true)
	p = m.Poll(ctx)
	require.True(t, p.Up, "err=%v", p.Err)
	assert.Equal(t, "backup", p.Status.SSID)
	assert.Equal(t, []int{1, 2}, cred.saves)
	assert.Equal(t, time.Duration(0), m.Cooldown())
}

func TestMonitorCooldownGrows(t *testing.T) {
	t.Parallel()

	clock := helpers.NewFakeClock(time.Unix(100, 0))
	drv := NewSimDriver(testAddr())
	m := NewMonitor(log2.NewTest(t, log2.LDebug), drv, Options{Networks: testNetworks, Now: clock.Now})
	expect := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, d := range expect {
		p := m.Poll(context.Background())
		require.False(t, p.Up)
		require.Error(t, p.Err, "step %d", i)
		assert.Equal(t, d, m.Cooldown(), "step %d", i)
		clock.Add(d)
	}
}

func TestMonitorPersistFailure(t *testing.T) {
	t.Parallel()

	drv := NewSimDriver(testAddr(), "field-ap")
	cred := &memCred{index: -1, err: errors.New("disk full")}
	m := NewMonitor(log2.NewTest(t, log2.LDebug), drv, Options{Networks: testNetworks, Store: cred})
	p := m.Poll(context.Background())
	assert.True(t, p.Up, "persistence failure does not affect link")
	assert.Nil(t, p.Err)
}

func TestMonitorNoNetworks(t *testing.T) {
	t.Parallel()

	m := NewMonitor(nil, NewSimDriver(testAddr(), "x"), Options{})
	p := m.Poll(context.Background())
	assert.False(t, p.Up)
	assert.True(t, errors.IsNotFound(errors.Cause(p.Err)) || conn.KindOf(p.Err) == conn.KindLink)
}
