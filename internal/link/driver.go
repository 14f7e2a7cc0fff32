package link

import (
	"context"
	"net"

	"github.com/krti/uavlink/internal/state"
)

type Status struct {
	Up        bool
	SSID      string
	Addr      *net.IPNet // nil when unknown
	SignalDBM int
}

// Driver is the radio: association state, scan, connect.
type Driver interface {
	Status(ctx context.Context) (Status, error)
	// Scan returns visible network names.
	Scan(ctx context.Context) ([]string, error)
	Connect(ctx context.Context, n state.Network) error
}
