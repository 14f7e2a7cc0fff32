// Package localbroker is minimal MQTT 3.1.1 broker for bench runs and tests.
// QoS 0 and 1 inbound, delivery to subscribers is QoS 0, no retain, no sessions.
package localbroker

import (
	"net"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/topic"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/krti/uavlink/log2"
	"github.com/temoto/alive/v2"
)

const DefaultNetworkTimeout = 30 * time.Second

type Options struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
	// OnPublish observes every inbound message, called before delivery.
	OnPublish func(clientID string, msg *packet.Message)
}

type Broker struct {
	alive *alive.Alive
	log   *log2.Log
	opt   Options
	ln    net.Listener
	ns    *transport.NetServer

	mu    sync.Mutex
	subs  *topic.Tree // *subscription
	conns map[string]*client
}

type subscription struct {
	pattern string
	client  *client
}

type client struct {
	id   string
	mu   sync.Mutex
	conn transport.Conn
}

func (c *client) send(pkt packet.Generic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Send(pkt, false)
}

// Listen on TCP address, "127.0.0.1:0" picks free port.
func Listen(addr string, opt Options) (*Broker, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "localbroker listen=%s", addr)
	}
	b := &Broker{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
		ln:    ln,
		ns:    transport.NewNetServer(ln),
		subs:  topic.NewStandardTree(),
		conns: make(map[string]*client),
	}
	b.alive.Add(1)
	go b.acceptLoop()
	return b, nil
}

// URL for MQTT clients, tcp://host:port
func (b *Broker) URL() string { return "tcp://" + b.ln.Addr().String() }

func (b *Broker) Close() error {
	b.alive.Stop()
	err := b.ns.Close()
	b.DropClients()
	b.alive.Wait()
	return errors.Annotate(err, "localbroker close")
}

// DropClients closes every client connection without DISCONNECT, like network loss.
func (b *Broker) DropClients() {
	b.mu.Lock()
	cs := make([]*client, 0, len(b.conns))
	for _, c := range b.conns {
		cs = append(cs, c)
	}
	b.mu.Unlock()
	for _, c := range cs {
		_ = c.conn.Close()
	}
}

func (b *Broker) Clients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.conns))
	for id := range b.conns {
		ids = append(ids, id)
	}
	return ids
}

// Publish delivers message to matching subscribers, returns number of receivers.
func (b *Broker) Publish(topicName string, payload []byte) int {
	msg := &packet.Message{Topic: topicName, Payload: payload, QOS: packet.QOSAtMostOnce}
	return b.deliver(msg)
}

func (b *Broker) deliver(msg *packet.Message) int {
	b.mu.Lock()
	targets := make([]*client, 0, 4)
	uniq := make(map[string]struct{}, 4)
	for _, x := range b.subs.Match(msg.Topic) {
		sub := x.(*subscription)
		if _, ok := uniq[sub.client.id]; ok {
			continue
		}
		uniq[sub.client.id] = struct{}{}
		if b.conns[sub.client.id] == sub.client {
			targets = append(targets, sub.client)
		}
	}
	b.mu.Unlock()

	n := 0
	for _, c := range targets {
		pub := packet.NewPublish()
		pub.Message = *msg.Copy()
		pub.Message.QOS = packet.QOSAtMostOnce
		if err := c.send(pub); err != nil {
			b.log.Debugf("localbroker deliver client=%s err=%v", c.id, err)
			continue
		}
		n++
	}
	return n
}

func (b *Broker) acceptLoop() {
	defer b.alive.Done()
	for {
		conn, err := b.ns.Accept()
		if !b.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			b.log.Errorf("localbroker accept: %v", err)
			return
		}
		if !b.alive.Add(1) {
			_ = conn.Close()
			return
		}
		go b.serve(conn)
	}
}

func (b *Broker) serve(conn transport.Conn) {
	defer b.alive.Done()
	defer conn.Close()
	conn.SetMaxWriteDelay(0)
	conn.SetReadTimeout(b.opt.NetworkTimeout)

	pkt, err := conn.Receive()
	if err != nil {
		b.log.Debugf("localbroker receive connect: %v", err)
		return
	}
	pktConnect, ok := pkt.(*packet.Connect)
	if !ok {
		b.log.Errorf("localbroker expected CONNECT received=%s", pkt.String())
		return
	}
	c := &client{id: pktConnect.ClientID, conn: conn}
	connack := packet.NewConnack()
	if c.id == "" {
		connack.ReturnCode = packet.IdentifierRejected
		_ = c.send(connack)
		return
	}
	connack.ReturnCode = packet.ConnectionAccepted
	if err = c.send(connack); err != nil {
		return
	}

	b.mu.Lock()
	if ex, ok := b.conns[c.id]; ok {
		// client overtake
		_ = ex.conn.Close()
	}
	b.conns[c.id] = c
	b.mu.Unlock()
	b.log.Debugf("localbroker client=%s connected", c.id)

	defer b.detach(c)
	for b.alive.IsRunning() {
		pkt, err = conn.Receive()
		if err != nil {
			b.log.Debugf("localbroker client=%s receive: %v", c.id, err)
			return
		}
		if !b.process(c, pkt) {
			return
		}
	}
}

func (b *Broker) process(c *client, pkt packet.Generic) bool {
	var err error
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		err = c.send(packet.NewPingresp())

	case *packet.Subscribe:
		suback := packet.NewSuback()
		suback.ID = pt.ID
		suback.ReturnCodes = make([]packet.QOS, 0, len(pt.Subscriptions))
		b.mu.Lock()
		for _, s := range pt.Subscriptions {
			b.subs.Add(s.Topic, &subscription{pattern: s.Topic, client: c})
			granted := s.QOS
			if granted > packet.QOSAtLeastOnce {
				granted = packet.QOSAtLeastOnce
			}
			suback.ReturnCodes = append(suback.ReturnCodes, granted)
		}
		b.mu.Unlock()
		err = c.send(suback)

	case *packet.Publish:
		if b.opt.OnPublish != nil {
			b.opt.OnPublish(c.id, &pt.Message)
		}
		b.deliver(&pt.Message)
		if pt.Message.QOS == packet.QOSAtLeastOnce {
			puback := packet.NewPuback()
			puback.ID = pt.ID
			err = c.send(puback)
		} else if pt.Message.QOS > packet.QOSAtLeastOnce {
			err = errors.NotSupportedf("qos=%d", pt.Message.QOS)
		}

	case *packet.Puback:
		// delivery is QoS 0, nothing to fulfill

	case *packet.Disconnect:
		return false

	default:
		b.log.Debugf("localbroker client=%s ignore packet=%s", c.id, pkt.String())
	}
	if err != nil {
		b.log.Errorf("localbroker client=%s: %v", c.id, err)
		return false
	}
	return true
}

func (b *Broker) detach(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns[c.id] == c {
		delete(b.conns, c.id)
	}
	for _, value := range b.subs.All() {
		if sub := value.(*subscription); sub.client == c {
			b.subs.Remove(sub.pattern, value)
		}
	}
	b.log.Debugf("localbroker client=%s detached", c.id)
}
