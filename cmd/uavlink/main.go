package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/juju/errors"
	"github.com/krti/uavlink/cmd/uavlink/bench"
	"github.com/krti/uavlink/cmd/uavlink/console"
	"github.com/krti/uavlink/cmd/uavlink/discover"
	"github.com/krti/uavlink/cmd/uavlink/run"
	"github.com/krti/uavlink/cmd/uavlink/subcmd"
	"github.com/krti/uavlink/internal/channel"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/log2"
	"golang.org/x/sys/unix"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	discover.Mod,
	bench.Mod,
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "uavlink.hcl", "")
	flagDebug := cmdline.Bool("debug", false, "debug log level")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "usage: %s [flags] [command]\n", os.Args[0])
		cmdline.PrintDefaults()
		fmt.Fprint(cmdline.Output(), subcmd.Usage(modules))
	}
	_ = cmdline.Parse(os.Args[1:])

	if subcmd.SdNotify("start") {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	if !*flagDebug {
		log.SetLevel(log2.LInfo)
	}

	name := cmdline.Arg(0)
	if name == "" {
		name = run.Mod.Name
	}
	mod, err := subcmd.Parse(name, modules)
	if err != nil {
		cmdline.Usage()
		log.Fatal(err)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	log.Debugf("config=%+v", config.Redacted())
	channel.SetClientLog(log, config.Broker.LogDebug)

	ctx, cancel := context.WithCancel(log2.ContextWithLogger(context.Background(), log))
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	go func() {
		s := <-sigs
		log.Infof("signal=%v, stopping", s)
		cancel()
	}()

	var args []string
	if cmdline.NArg() > 1 {
		args = cmdline.Args()[1:]
	}
	err = mod.Main(ctx, config, args)
	cancel()
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Fatal(errors.ErrorStack(err))
	}
}
