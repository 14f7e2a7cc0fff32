// Package discover runs dashboard discovery once and prints result.
package discover

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/cmd/uavlink/subcmd"
	"github.com/krti/uavlink/internal/agent"
	"github.com/krti/uavlink/internal/locator"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/log2"
)

var Mod = subcmd.Mod{Name: "discover", Desc: "find dashboard in local network and exit", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	driver, err := agent.NewDriver(config)
	if err != nil {
		return err
	}
	st, err := driver.Status(ctx)
	if err != nil {
		return errors.Annotate(err, "link status")
	}
	if !st.Up {
		return errors.Errorf("link down, connect %s first", config.Link.Interface)
	}
	log.Infof("link ssid=%s addr=%v", st.SSID, st.Addr)

	reach := agent.NewReachability(config, nil)
	l := locator.New(log, agent.DefaultFinders(log, config, reach, time.Now)...)
	tbegin := time.Now()
	ep, err := l.Discover(ctx, st.Addr)
	if err != nil {
		return errors.Annotatef(err, "discover duration=%s", time.Since(tbegin))
	}
	fmt.Fprintf(os.Stdout, "%s\n", ep)
	log.Infof("dashboard=%s duration=%s", ep, time.Since(tbegin))
	return nil
}
