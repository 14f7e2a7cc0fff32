package log2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clientLogger is the hook shape MQTT client library assigns its loggers to.
type clientLogger interface {
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}

func TestLog2(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		level  Level
		fun    func(t testing.TB, l *Log)
		expect string
	}{
		{"levels/debug-hidden", LInfo, func(t testing.TB, l *Log) {
			l.Debugf("poll ssid=%s", "field-ap")
			l.Infof("link up ssid=%s", "field-ap")
			l.Errorf("connect timeout")
		}, "link up ssid=field-ap\nerror: connect timeout\n"},
		{"levels/error-only", LError, func(t testing.TB, l *Log) {
			l.Info("dispatch sent")
			l.Error(errors.New("http status=500"))
		}, "error: http status=500\n"},
		{"named/chain", LDebug, func(t testing.TB, l *Log) {
			l.Named("agent").Named("link").Infof("cooldown=%s", "5s")
		}, "agent: link: cooldown=5s\n"},
		{"named/keeps-level", LInfo, func(t testing.TB, l *Log) {
			n := l.Named("conn")
			n.Debugf("hidden")
			n.Infof("mode local_discovery -> last_known")
		}, "conn: mode local_discovery -> last_known\n"},
		{"client-hook/printf-is-debug", LDebug, func(t testing.TB, l *Log) {
			var hook clientLogger = l.Named("mqtt")
			hook.Printf("[client] %s", "connecting")
			hook.Println("[net]", "logic started")
		}, "mqtt: debug: [client] connecting\nmqtt: debug: [net]logic started\n"},
		{"client-hook/quiet-at-info", LInfo, func(t testing.TB, l *Log) {
			var hook clientLogger = l
			hook.Printf("[pinger] ping")
			hook.Println("[store] memorystore wiped")
		}, ""},
		{"set-level/runtime", LDebug, func(t testing.TB, l *Log) {
			l.Debugf("before")
			l.SetLevel(LError)
			l.Debugf("after")
			l.Infof("after")
		}, "debug: before\n"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, c.level)
			l.SetFlags(0)
			c.fun(t, l)
			assert.Equal(t, c.expect, buf.String())
		})
	}
}

func TestFlags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		flags  int
		expect string
	}{
		// journald adds its own timestamp
		{"service", LServiceFlags, `^log2_test\.go:\d+: agent running\n$`},
		{"interactive", LInteractiveFlags, `^\d\d:\d\d:\d\d\.\d{6} log2_test\.go:\d+: agent running\n$`},
		{"test", LTestFlags, `^\d\d:\d\d:\d\d\.\d{6} log2_test\.go:\d+: agent running\n$`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, LInfo)
			l.SetFlags(c.flags)
			l.Infof("agent running")
			assert.Regexp(t, regexp.MustCompile(c.expect), buf.String())
		})
	}
}

func TestErrorFunc(t *testing.T) {
	t.Parallel()

	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LInfo)
	l.SetFlags(0)
	var got []error
	l.SetErrorFunc(func(e error) { got = append(got, e) })

	exact := errors.New("broker handshake")
	l.Named("conn").Error(exact)
	l.Errorf("socket dial port=%d", 5000)
	l.Error("two", " parts")
	l.Infof("not an error")

	require.Len(t, got, 3)
	assert.Equal(t, exact, got[0], "error value passed as is")
	assert.Equal(t, "socket dial port=5000", got[1].Error())
	assert.Equal(t, "two parts", got[2].Error())
	assert.Equal(t, "conn: error: broker handshake\nerror: socket dial port=5000\nerror: two parts\nnot an error\n", buf.String())
}

func TestCloneIndependent(t *testing.T) {
	t.Parallel()

	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LDebug)
	l.SetFlags(0)
	l.SetPrefix("uavlink: ")
	c := l.Clone(LInfo)
	c.Debugf("clone hidden")
	l.Debugf("parent shown")
	c.SetLevel(LDebug)
	l.SetLevel(LError)
	c.Debugf("clone shown")
	l.Infof("parent hidden")
	assert.Equal(t, "uavlink: debug: parent shown\nuavlink: debug: clone shown\n", buf.String())
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	l := NewWriter(bytes.NewBuffer(nil), LInfo)
	ctx := ContextWithLogger(context.Background(), l)
	assert.Equal(t, l, ContextValueLogger(ctx))
	assert.Nil(t, ContextValueLogger(context.Background()))
	bad := context.WithValue(context.Background(), ContextKey, "not a logger")
	assert.Panics(t, func() { ContextValueLogger(bad) })
}

func TestFatalHook(t *testing.T) {
	t.Parallel()

	var fatal string
	l := NewFunc(func(format string, args ...interface{}) {}, LInfo)
	l.fatalf = func(format string, args ...interface{}) { fatal = fmt.Sprintf(format, args...) }
	l.Fatalf("config path=%s", "uavlink.hcl")
	assert.Equal(t, "config path=uavlink.hcl", fatal)
	l.Fatal("subcommand ", "fly", " unknown")
	assert.Equal(t, "subcommand fly unknown", fatal)
}

func TestNilLog(t *testing.T) {
	t.Parallel()

	var l *Log
	assert.NotPanics(t, func() {
		l.SetLevel(LDebug)
		l.SetFlags(0)
		l.SetErrorFunc(func(error) {})
		l.Debugf("x")
		l.Infof("x")
		l.Errorf("x")
		l.Error(errors.New("x"))
		l.Printf("x")
		l.Println("x")
	})
	assert.Nil(t, l.Named("link"))
	assert.Nil(t, l.Clone(LInfo))
	assert.False(t, l.Enabled(LError))
}
