package locator

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/conn"
)

const (
	DefaultHealthPath   = "/api/health"
	DefaultProbeTimeout = 2 * time.Second
)

// Reachability answers whether dashboard listens at endpoint.
type Reachability interface {
	Check(ctx context.Context, ep conn.Endpoint, timeout time.Duration) error
}

// HTTPReachability is any 2xx answer on health path.
type HTTPReachability struct {
	Path      string
	Timeout   time.Duration
	Transport http.RoundTripper
}

func (h *HTTPReachability) Check(ctx context.Context, ep conn.Endpoint, timeout time.Duration) error {
	path := h.Path
	if path == "" {
		path = DefaultHealthPath
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := "http://" + ep.String() + path
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return errors.Annotatef(err, "probe url=%s", url)
	}
	client := http.Client{Transport: h.Transport}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Annotatef(err, "probe url=%s", url)
	}
	_, _ = io.Copy(ioutil.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NotFoundf("dashboard url=%s status=%d", url, resp.StatusCode)
	}
	return nil
}

// Probe implements saved address check with default timeout.
func (h *HTTPReachability) Probe(ctx context.Context, ep conn.Endpoint) error {
	timeout := h.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	return h.Check(ctx, ep, timeout)
}
