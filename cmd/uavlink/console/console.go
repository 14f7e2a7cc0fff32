// Package console runs agent in background with operator prompt.
package console

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/krti/uavlink/cmd/uavlink/subcmd"
	"github.com/krti/uavlink/helpers/cli"
	"github.com/krti/uavlink/internal/agent"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/log2"
)

const modName = "console"

var Mod = subcmd.Mod{Name: modName, Desc: "run agent with interactive prompt", Main: Main}

var suggests = []prompt.Suggest{
	{Text: "status", Description: "connection, link and dispatch counters"},
	{Text: "mode", Description: "mode local_discovery|cloud_broker|last_known"},
	{Text: "manual", Description: "manual host:port, or manual off"},
	{Text: "inject", Description: "inject <message> as if received from dashboard"},
	{Text: "relay", Description: "relay state"},
	{Text: "quit"},
}

func Main(ctx context.Context, config *state.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	a, err := agent.New(log, config, agent.Deps{})
	if err != nil {
		return errors.Annotate(err, "agent init")
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, nil) }()

	err = cli.MainLoop(modName, os.Stdin, NewExecutor(a, os.Stdout), complete)
	cancel()
	<-done
	return err
}

func complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

// NewExecutor handles one prompt line, false means quit.
func NewExecutor(a *agent.Agent, w io.Writer) func(line string) bool {
	return func(line string) bool {
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		arg := ""
		if len(parts) == 2 {
			arg = strings.TrimSpace(parts[1])
		}
		switch parts[0] {
		case "":
		case "status", "s":
			a.Snapshot().Write(w)
		case "mode":
			m, err := conn.ParseMode(arg)
			if err == nil && m == conn.Manual {
				err = errors.NotValidf("use manual host:port")
			}
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				break
			}
			a.ForceMode(m)
			fmt.Fprintf(w, "mode=%s\n", m)
		case "manual":
			if arg == "off" {
				a.SetManual(conn.Endpoint{})
				fmt.Fprintf(w, "mode=%s\n", a.State.Mode())
				break
			}
			ep, err := parseEndpoint(arg)
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				break
			}
			a.SetManual(ep)
			fmt.Fprintf(w, "mode=%s address=%s\n", a.State.Mode(), ep)
		case "inject":
			if err := a.Intake.Receive(conn.ChannelSocket, []byte(arg)); err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				break
			}
			fmt.Fprintf(w, "queued\n")
		case "relay":
			fmt.Fprintf(w, "relay_on=%t\n", a.Relay.On())
		case "quit", "exit", "q":
			return false
		default:
			fmt.Fprintf(w, "unknown command '%s'\n", parts[0])
		}
		return true
	}
}

func parseEndpoint(s string) (conn.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return conn.Endpoint{}, errors.NotValidf("address=%s", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return conn.Endpoint{}, errors.NotValidf("port=%s", portStr)
	}
	if err = state.ValidateHost(host); err != nil {
		return conn.Endpoint{}, err
	}
	if err = state.ValidatePort(port); err != nil {
		return conn.Endpoint{}, err
	}
	return conn.Endpoint{Host: host, Port: port}, nil
}
