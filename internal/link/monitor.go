// Package link keeps the device associated with one of configured wireless networks.
package link

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/helpers"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/log2"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCooldownMin    = 5 * time.Second
	DefaultCooldownMax    = 60 * time.Second
)

// CredentialStore remembers which network worked last time.
type CredentialStore interface {
	PreferredCredential() int
	SaveCredential(index int) error
}

type Poll struct {
	Up bool
	// JustChanged is set when link went up or down since previous Poll,
	// including lost and regained within this Poll.
	JustChanged bool
	Status      Status
	Err         error
}

type Monitor struct {
	log            *log2.Log
	driver         Driver
	networks       []state.Network
	store          CredentialStore
	connectTimeout time.Duration
	cooldown       helpers.Backoff
	wasUp          bool
	last           Status
}

type Options struct {
	Networks       []state.Network
	Store          CredentialStore
	ConnectTimeout time.Duration
	CooldownMin    time.Duration
	CooldownMax    time.Duration
	Now            func() time.Time
}

func NewMonitor(log *log2.Log, driver Driver, opt Options) *Monitor {
	if opt.ConnectTimeout == 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.CooldownMin == 0 {
		opt.CooldownMin = DefaultCooldownMin
	}
	if opt.CooldownMax == 0 {
		opt.CooldownMax = DefaultCooldownMax
	}
	return &Monitor{
		log:            log,
		driver:         driver,
		networks:       opt.Networks,
		store:          opt.Store,
		connectTimeout: opt.ConnectTimeout,
		cooldown: helpers.Backoff{
			Min: opt.CooldownMin,
			Max: opt.CooldownMax,
			K:   2,
			Res: time.Second,
			Now: opt.Now,
		},
	}
}

// Last is status from latest Poll.
func (m *Monitor) Last() Status { return m.last }

// Cooldown until next reconnect attempt, 0 if allowed now.
func (m *Monitor) Cooldown() time.Duration { return m.cooldown.DelayBefore() }

func (m *Monitor) Poll(ctx context.Context) Poll {
	st, err := m.driver.Status(ctx)
	if err != nil {
		m.log.Debugf("link status: %v", err)
		st = Status{}
	}
	if st.Up {
		return m.settle(st, nil, false)
	}

	lost := m.wasUp
	if lost {
		m.log.Infof("link lost ssid=%s", m.last.SSID)
	}
	if !m.cooldown.Ready() {
		return m.settle(st, nil, lost)
	}
	err = m.reconnect(ctx)
	if err != nil {
		m.cooldown.Failure()
		m.log.Errorf("link %v, next attempt in %s", err, m.cooldown.Next())
		return m.settle(Status{}, err, lost)
	}
	m.cooldown.Reset()
	st, err = m.driver.Status(ctx)
	if err != nil || !st.Up {
		// associated but no address yet, next poll will see it
		return m.settle(Status{}, conn.LinkError(errors.Annotate(errOr(err, "no address after connect"), "link status")), lost)
	}
	return m.settle(st, nil, lost)
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}

func (m *Monitor) settle(st Status, err error, lost bool) Poll {
	p := Poll{Up: st.Up, Status: st, Err: err}
	p.JustChanged = st.Up != m.wasUp || (st.Up && lost)
	if p.JustChanged && st.Up {
		m.log.Infof("link up ssid=%s addr=%v", st.SSID, st.Addr)
	}
	m.wasUp = st.Up
	m.last = st
	return p
}

func (m *Monitor) reconnect(ctx context.Context) error {
	if len(m.networks) == 0 {
		return conn.LinkError(errors.NotFoundf("configured networks"))
	}
	preferred := -1
	if m.store != nil {
		preferred = m.store.PreferredCredential()
	}
	visible, err := m.driver.Scan(ctx)
	if err != nil {
		m.log.Debugf("link scan: %v, trying all networks", err)
		visible = nil
	}
	order := Order(m.networks, preferred, visible)
	if len(order) == 0 {
		return conn.LinkError(errors.NotFoundf("configured networks in scan of %d", len(visible)))
	}
	errs := make([]error, 0, len(order))
	for _, i := range order {
		n := m.networks[i]
		cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
		err := m.driver.Connect(cctx, n)
		cancel()
		if err == nil {
			m.log.Infof("link connected ssid=%s index=%d", n.SSID, i)
			if m.store != nil && i != preferred {
				if err := m.store.SaveCredential(i); err != nil {
					m.log.Errorf("link %v", conn.PersistenceError(err))
				}
			}
			return nil
		}
		errs = append(errs, errors.Annotatef(err, "ssid=%s", n.SSID))
		if ctx.Err() != nil {
			break
		}
	}
	return conn.LinkError(helpers.FoldErrors(errs))
}

// Order returns network indexes to try: preferred first, then list order.
// Networks missing from non-empty visible list are skipped,
// empty visible means scan is unavailable and all are tried.
func Order(networks []state.Network, preferred int, visible []string) []int {
	seen := make(map[string]bool, len(visible))
	for _, s := range visible {
		seen[s] = true
	}
	ok := func(i int) bool { return len(visible) == 0 || seen[networks[i].SSID] }
	out := make([]int, 0, len(networks))
	if preferred >= 0 && preferred < len(networks) && ok(preferred) {
		out = append(out, preferred)
	}
	for i := range networks {
		if i != preferred && ok(i) {
			out = append(out, i)
		}
	}
	return out
}
