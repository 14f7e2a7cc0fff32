package command

import (
	"context"
	"strings"
	"sync"

	"github.com/juju/errors"
)

type Executor interface {
	Execute(ctx context.Context, cmd string) (string, error)
}

type ExecutorFunc func(ctx context.Context, cmd string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, cmd string) (string, error) { return f(ctx, cmd) }

// RelayExecutor drives single relay output.
// Switch, when set, applies new state to hardware; state is kept only if Switch succeeds.
type RelayExecutor struct {
	mu     sync.Mutex
	on     bool
	Switch func(on bool) error
}

func (r *RelayExecutor) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *RelayExecutor) Execute(ctx context.Context, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.on
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "relay_on":
		next = true
	case "relay_off":
		next = false
	case "relay_toggle":
		next = !r.on
	case "status":
		return relayString(r.on), nil
	default:
		return "", errors.NotSupportedf("command %q", cmd)
	}
	if r.Switch != nil {
		if err := r.Switch(next); err != nil {
			return "", errors.Annotatef(err, "relay switch %s", relayString(next))
		}
	}
	r.on = next
	return relayString(r.on), nil
}

func relayString(on bool) string {
	if on {
		return "relay=on"
	}
	return "relay=off"
}
