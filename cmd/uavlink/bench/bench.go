// Package bench runs local MQTT broker standing in for cloud broker on the bench.
// Telemetry published by agents is printed, prompt lines are sent as commands.
package bench

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/256dpi/gomqtt/packet"
	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/krti/uavlink/cmd/uavlink/subcmd"
	"github.com/krti/uavlink/helpers/cli"
	"github.com/krti/uavlink/internal/localbroker"
	"github.com/krti/uavlink/internal/state"
	"github.com/krti/uavlink/internal/telemetry"
	"github.com/krti/uavlink/log2"
)

const (
	modName     = "bench"
	defaultAddr = "127.0.0.1:1883"
)

var Mod = subcmd.Mod{Name: modName, Desc: "local MQTT broker [listen address]", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	addr := defaultAddr
	if len(args) > 0 {
		addr = args[0]
	}
	b, err := localbroker.Listen(addr, localbroker.Options{
		Log:       log.Named("localbroker"),
		OnPublish: Printer(log, config.TopicPrefix()),
	})
	if err != nil {
		return errors.Annotate(err, "bench")
	}
	defer b.Close()
	log.Infof("bench broker url=%s topic prefix=%s", b.URL(), config.TopicPrefix())

	go func() {
		<-ctx.Done()
		b.Close()
		os.Exit(0)
	}()
	return cli.MainLoop(modName, os.Stdin, NewExecutor(b, config.TopicPrefix()), func(prompt.Document) []prompt.Suggest { return nil })
}

// Printer logs decoded telemetry and raw acks.
func Printer(log *log2.Log, prefix string) func(clientID string, msg *packet.Message) {
	return func(clientID string, msg *packet.Message) {
		switch msg.Topic {
		case prefix + "/telemetry":
			d, err := telemetry.Decode(msg.Payload)
			if err != nil {
				log.Errorf("client=%s telemetry: %v", clientID, err)
				return
			}
			log.Infof("client=%s t=%dms %s/%s battery=%.2fV %.2fmA gps=%.6f,%.6f sat=%d signal=%d",
				clientID, d.UptimeMs, d.DeviceID, d.ConnectionType, d.BatteryVoltage, d.BatteryCurrent,
				d.Latitude, d.Longitude, d.Satellites, d.SignalStrength)
		default:
			log.Infof("client=%s topic=%s payload=%s", clientID, msg.Topic, msg.Payload)
		}
	}
}

// publisher is satisfied by *localbroker.Broker
type publisher interface {
	Publish(topic string, payload []byte) int
}

// NewExecutor: "relay_on" sends {"command":"relay_on"}, "raw <text>" sends text as is.
func NewExecutor(b publisher, prefix string) func(line string) bool {
	return func(line string) bool {
		line = strings.TrimSpace(line)
		var payload string
		switch {
		case line == "":
			return true
		case line == "quit":
			return false
		case strings.HasPrefix(line, "raw "):
			payload = strings.TrimPrefix(line, "raw ")
		default:
			payload = fmt.Sprintf(`{"command":%q}`, line)
		}
		n := b.Publish(prefix+"/command", []byte(payload))
		fmt.Fprintf(os.Stdout, "delivered to %d subscribers\n", n)
		return true
	}
}
