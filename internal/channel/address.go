package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
)

const (
	DefaultTelemetryPath = "/api/telemetry"
	DefaultHTTPTimeout   = 5 * time.Second
)

// StatusError means dashboard answered with unexpected HTTP status.
type StatusError struct{ Code int }

func (e StatusError) Error() string { return fmt.Sprintf("http status=%d", e.Code) }

// Address posts telemetry to dashboard endpoint, success is status 200 only.
type Address struct {
	log    *log2.Log
	client *http.Client
	path   string
}

func NewAddress(log *log2.Log, path string, timeout time.Duration, rt http.RoundTripper) *Address {
	if path == "" {
		path = DefaultTelemetryPath
	}
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Address{
		log:    log,
		client: &http.Client{Timeout: timeout, Transport: rt},
		path:   path,
	}
}

func (a *Address) URL(ep conn.Endpoint) string {
	return "http://" + ep.String() + a.path
}

func (a *Address) Send(ctx context.Context, ep conn.Endpoint, payload []byte) error {
	if ep.IsZero() {
		return errors.NotAssignedf("dashboard address")
	}
	url := a.URL(ep)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Annotatef(err, "http request url=%s", url)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Annotatef(err, "http post url=%s", url)
	}
	// drain for connection reuse
	_, _ = io.Copy(ioutil.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Annotatef(StatusError{Code: resp.StatusCode}, "http post url=%s", url)
	}
	a.log.Debugf("http sent url=%s size=%d", url, len(payload))
	return nil
}
