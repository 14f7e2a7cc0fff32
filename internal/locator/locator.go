// Package locator finds the dashboard: mDNS service query first, then local address range probe.
// Probes are synchronous, bounded by their own timeouts and never retry.
package locator

import (
	"context"
	"net"

	"github.com/juju/errors"
	"github.com/krti/uavlink/helpers"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
)

type Finder interface {
	Find(ctx context.Context, local *net.IPNet) (conn.Endpoint, error)
}

type FinderFunc func(ctx context.Context, local *net.IPNet) (conn.Endpoint, error)

func (f FinderFunc) Find(ctx context.Context, local *net.IPNet) (conn.Endpoint, error) {
	return f(ctx, local)
}

// Locator runs finders in order, first success wins.
type Locator struct {
	Log     *log2.Log
	Finders []Finder
}

func New(log *log2.Log, finders ...Finder) *Locator {
	fs := make([]Finder, 0, len(finders))
	for _, f := range finders {
		if f != nil {
			fs = append(fs, f)
		}
	}
	return &Locator{Log: log, Finders: fs}
}

func (l *Locator) Discover(ctx context.Context, local *net.IPNet) (conn.Endpoint, error) {
	errs := make([]error, 0, len(l.Finders))
	for _, f := range l.Finders {
		ep, err := f.Find(ctx, local)
		if err == nil {
			return ep, nil
		}
		l.Log.Debugf("locator: %v", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return conn.Endpoint{}, errors.NotFoundf("dashboard, no probes configured")
	}
	return conn.Endpoint{}, helpers.FoldErrors(errs)
}
