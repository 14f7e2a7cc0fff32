// Package run is the service mode: agent loop under systemd.
package run

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/krti/uavlink/cmd/uavlink/subcmd"
	"github.com/krti/uavlink/internal/agent"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/log2"
)

var Mod = subcmd.Mod{Name: "run", Desc: "run agent (default)", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	a, err := agent.New(log, config, agent.Deps{})
	if err != nil {
		return errors.Annotate(err, "agent init")
	}
	defer a.Close()

	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("uavlink device=%s running", config.DeviceID())
	err = a.Run(ctx, Watchdog(log))
	subcmd.SdNotify(daemon.SdNotifyStopping)
	return err
}

// Watchdog returns tick hook pinging systemd at half of WatchdogSec, nil when disabled.
func Watchdog(log *log2.Log) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Errorf("watchdog: %v", err)
		return nil
	}
	if interval == 0 {
		return nil
	}
	var last time.Time
	return func() {
		if now := time.Now(); now.Sub(last) >= interval/2 {
			last = now
			subcmd.SdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
