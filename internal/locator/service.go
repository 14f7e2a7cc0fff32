package locator

import (
	"context"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
)

const (
	DefaultService     = "_uav-dashboard._tcp"
	DefaultSelfService = "_uavlink-device._tcp"
	DefaultDomain      = "local."
	DefaultMDNSTimeout = 3 * time.Second
)

// ServiceProbe advertises this device and asks for dashboard service over mDNS.
type ServiceProbe struct {
	Log         *log2.Log
	Instance    string
	SelfService string
	Service     string
	Domain      string
	// Port for own advertisement, informational
	Port    int
	Timeout time.Duration
}

func (s *ServiceProbe) defaults() {
	if s.Service == "" {
		s.Service = DefaultService
	}
	if s.SelfService == "" {
		s.SelfService = DefaultSelfService
	}
	if s.Domain == "" {
		s.Domain = DefaultDomain
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultMDNSTimeout
	}
	if s.Port == 0 {
		s.Port = 1
	}
}

func (s *ServiceProbe) Find(ctx context.Context, _ *net.IPNet) (conn.Endpoint, error) {
	s.defaults()
	if s.Instance != "" {
		srv, err := zeroconf.Register(s.Instance, s.SelfService, s.Domain, s.Port, []string{"role=uav"}, nil)
		if err != nil {
			// browsing may still work
			s.Log.Debugf("mdns register instance=%s err=%v", s.Instance, err)
		} else {
			defer srv.Shutdown()
		}
	}

	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return conn.Endpoint{}, errors.Annotate(err, "mdns resolver")
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err = resolver.Browse(ctx, s.Service, s.Domain, entries); err != nil {
		return conn.Endpoint{}, errors.Annotatef(err, "mdns browse service=%s", s.Service)
	}
	// resolver closes entries after ctx is done, blocked sends must be drained
	defer func() {
		cancel()
		go func() {
			for range entries {
			}
		}()
	}()
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return conn.Endpoint{}, errors.NotFoundf("mdns service=%s", s.Service)
			}
			if len(e.AddrIPv4) == 0 || e.Port == 0 {
				continue
			}
			ep := conn.Endpoint{Host: e.AddrIPv4[0].String(), Port: e.Port}
			s.Log.Debugf("mdns found instance=%s at %s", e.Instance, ep)
			return ep, nil
		case <-ctx.Done():
			return conn.Endpoint{}, errors.Timeoutf("mdns service=%s", s.Service)
		}
	}
}
