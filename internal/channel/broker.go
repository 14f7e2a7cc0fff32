package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
)

const DefaultBrokerTimeout = 10 * time.Second

type BrokerConfig struct {
	URL       string
	ClientID  string
	Username  string
	Password  string
	TLSCAFile string
	// topics are TopicPrefix + "/telemetry", "/command", "/ack"
	TopicPrefix    string
	ConnectTimeout time.Duration
	Keepalive      time.Duration
}

// Broker is MQTT session with publish/subscribe broker.
// Connect is the whole handshake: session plus command subscription.
// Reconnection is owned by the connection state machine, not by the client.
type Broker struct {
	log       *log2.Log
	config    BrokerConfig
	tlsconf   *tls.Config
	onCommand CommandSink

	topicTelemetry string
	topicCommand   string
	topicAck       string

	mu     sync.Mutex
	client mqtt.Client
	lost   chan struct{}
}

func NewBroker(log *log2.Log, config BrokerConfig, onCommand CommandSink) (*Broker, error) {
	u, err := url.ParseRequestURI(config.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "broker url=%s", config.URL)
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultBrokerTimeout
	}
	if config.Keepalive == 0 {
		config.Keepalive = 30 * time.Second
	}
	b := &Broker{
		log:            log,
		config:         config,
		onCommand:      onCommand,
		topicTelemetry: config.TopicPrefix + "/telemetry",
		topicCommand:   config.TopicPrefix + "/command",
		topicAck:       config.TopicPrefix + "/ack",
	}
	switch u.Scheme {
	case "ssl", "tls", "tcps", "wss":
		b.tlsconf = &tls.Config{ServerName: u.Hostname()}
		if config.TLSCAFile != "" {
			cabytes, err := ioutil.ReadFile(config.TLSCAFile)
			if err != nil {
				return nil, errors.Annotate(err, "broker TLS CA")
			}
			b.tlsconf.RootCAs = x509.NewCertPool()
			if !b.tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
				return nil, errors.NotValidf("broker TLS CA file=%s", config.TLSCAFile)
			}
		}
	}
	return b, nil
}

// SetClientLog routes MQTT client library logs, process wide. Call once at startup.
func SetClientLog(log *log2.Log, debug bool) {
	mqttLog := log.Named("mqtt")
	mqttLog.SetLevel(log2.LDebug)
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if debug {
		mqtt.DEBUG = mqttLog
	}
}

func (b *Broker) TopicTelemetry() string { return b.topicTelemetry }
func (b *Broker) TopicCommand() string   { return b.topicCommand }
func (b *Broker) TopicAck() string       { return b.topicAck }

func (b *Broker) options(lost chan struct{}) *mqtt.ClientOptions {
	opt := mqtt.NewClientOptions().
		AddBroker(b.config.URL).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetClientID(b.config.ClientID).
		SetConnectTimeout(b.config.ConnectTimeout).
		SetKeepAlive(b.config.Keepalive).
		SetPingTimeout(b.config.ConnectTimeout).
		SetWriteTimeout(b.config.ConnectTimeout).
		SetOrderMatters(false).
		SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
			b.log.Errorf("broker unexpected message topic=%s", msg.Topic())
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Errorf("broker connection lost: %v", err)
			close(lost)
		})
	if b.config.Username != "" {
		opt.SetUsername(b.config.Username).SetPassword(b.config.Password)
	}
	if b.tlsconf != nil {
		opt.SetTLSConfig(b.tlsconf)
	}
	return opt
}

// Connect replaces any previous session.
func (b *Broker) Connect(ctx context.Context) error {
	b.Close()

	lost := make(chan struct{})
	client := mqtt.NewClient(b.options(lost))
	if err := b.tokenWait(ctx, client.Connect(), "connect"); err != nil {
		return err
	}
	if err := b.tokenWait(ctx, client.Subscribe(b.topicCommand, 1, b.onMessage), "subscribe:"+b.topicCommand); err != nil {
		client.Disconnect(0)
		return err
	}
	b.mu.Lock()
	b.client, b.lost = client, lost
	b.mu.Unlock()
	b.log.Debugf("broker connected url=%s", b.config.URL)
	return nil
}

func (b *Broker) Close() {
	b.mu.Lock()
	client := b.client
	b.client, b.lost = nil, nil
	b.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

func (b *Broker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return false
	}
	select {
	case <-b.lost:
		return false
	default:
		return b.client.IsConnected()
	}
}

func (b *Broker) Publish(ctx context.Context, payload []byte) error {
	return b.publish(ctx, b.topicTelemetry, payload)
}

func (b *Broker) PublishAck(ctx context.Context, payload []byte) error {
	return b.publish(ctx, b.topicAck, payload)
}

func (b *Broker) publish(ctx context.Context, topic string, payload []byte) error {
	if !b.Connected() {
		return errors.Errorf("broker not connected")
	}
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	return b.tokenWait(ctx, client.Publish(topic, 1, false, payload), "publish:"+topic)
}

func (b *Broker) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	if len(payload) > MaxInboundSize {
		b.log.Errorf("broker command dropped size=%d", len(payload))
		return
	}
	if b.onCommand != nil {
		b.onCommand(conn.ChannelBroker, payload)
	}
}

func (b *Broker) tokenWait(ctx context.Context, t mqtt.Token, tag string) error {
	timeout := b.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !t.WaitTimeout(timeout) {
		return errors.Timeoutf("broker %s", tag)
	}
	if err := t.Error(); err != nil {
		return errors.Annotatef(err, "broker %s", tag)
	}
	return nil
}
