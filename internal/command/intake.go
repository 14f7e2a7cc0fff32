package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/conn"
	"github.com/krti/uavlink/log2"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
)

const DefaultExecTimeout = 5 * time.Second

// Ack reports command result back to dashboard.
type Ack struct {
	Source  conn.Channel `json:"-"`
	Command string       `json:"command"`
	OK      bool         `json:"ok"`
	Result  string       `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func (a Ack) Encode() ([]byte, error) { return json.Marshal(a) }

type Options struct {
	// empty means in-memory journal
	JournalPath string
	MaxLength   int
	ExecTimeout time.Duration
	Executor    Executor
	// Acks receives results, sends never block, full channel drops ack.
	Acks chan<- Ack
}

// Intake contract:
//   - Receive returns after command is journaled, execution is asynchronous
//   - commands are executed in journal order, at least once across restarts
//   - no deduplication
type Intake struct {
	log   *log2.Log
	opt   Options
	q     *spq.Queue
	alive *alive.Alive
}

func NewIntake(log *log2.Log, opt Options) (*Intake, error) {
	if opt.Executor == nil {
		return nil, errors.NotAssignedf("command executor")
	}
	if opt.MaxLength == 0 {
		opt.MaxLength = DefaultMaxLength
	}
	if opt.ExecTimeout == 0 {
		opt.ExecTimeout = DefaultExecTimeout
	}
	path := opt.JournalPath
	if path == "" {
		path = spq.OnlyForTesting
	}
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "command journal")
	}
	in := &Intake{log: log, opt: opt, q: q, alive: alive.NewAlive()}
	in.alive.Add(1)
	go in.qworker()
	return in, nil
}

func (in *Intake) Close() {
	in.alive.Stop()
	if err := in.q.Close(); err != nil {
		in.log.Errorf("command journal close err=%v", err)
	}
	in.alive.Wait()
}

// Receive parses, validates and journals command from raw inbound message.
func (in *Intake) Receive(source conn.Channel, raw []byte) error {
	cmd, err := Parse(raw)
	if err != nil {
		return err
	}
	if err = Validate(cmd, in.opt.MaxLength); err != nil {
		in.ack(Ack{Source: source, Command: cmd, Error: err.Error()})
		return err
	}
	b := make([]byte, 0, 1+len(cmd))
	b = append(b, byte(source))
	b = append(b, cmd...)
	if err = in.q.Push(b); err != nil {
		return errors.Annotate(err, "command journal push")
	}
	in.log.Debugf("command queued source=%s cmd=%s", source, cmd)
	return nil
}

// Sink adapts Receive to channel command callback.
func (in *Intake) Sink(source conn.Channel, payload []byte) {
	if err := in.Receive(source, payload); err != nil {
		in.log.Errorf("command source=%s rejected: %v", source, err)
	}
}

func (in *Intake) qworker() {
	defer in.alive.Done()
	for {
		box, err := in.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			in.qhandle(b)
			if err = in.q.Delete(box); err != nil {
				in.log.Errorf("command journal Delete b=%x err=%v", b, err)
			}

		case spq.ErrClosed:
			if in.alive.IsRunning() {
				in.log.Errorf("CRITICAL command journal closed unexpectedly")
			}
			return

		default:
			in.log.Errorf("CRITICAL command journal err=%v", err)
			select {
			case <-in.alive.StopChan():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (in *Intake) qhandle(b []byte) {
	if len(b) < 2 {
		in.log.Errorf("command journal entry=%x too short", b)
		return
	}
	a := Ack{Source: conn.Channel(b[0]), Command: string(b[1:])}
	ctx, cancel := context.WithTimeout(context.Background(), in.opt.ExecTimeout)
	result, err := in.opt.Executor.Execute(ctx, a.Command)
	cancel()
	if err != nil {
		a.Error = err.Error()
		in.log.Errorf("command %s: %v", a.Command, err)
	} else {
		a.OK, a.Result = true, result
		in.log.Infof("command %s: %s", a.Command, result)
	}
	in.ack(a)
}

func (in *Intake) ack(a Ack) {
	if in.opt.Acks == nil {
		return
	}
	select {
	case in.opt.Acks <- a:
	default:
		in.log.Errorf("command ack dropped cmd=%s", a.Command)
	}
}
