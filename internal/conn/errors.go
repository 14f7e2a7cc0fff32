package conn

import "github.com/juju/errors"

// Kind classifies recoverable failures. None of them stop the agent.
type Kind uint8

const (
	KindLink Kind = iota + 1
	KindDiscovery
	KindChannel
	KindSend
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindLink:
		return "link"
	case KindDiscovery:
		return "discovery"
	case KindChannel:
		return "channel"
	case KindSend:
		return "send"
	case KindPersistence:
		return "persistence"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Err: err}
}

func LinkError(err error) error        { return wrap(KindLink, err) }
func DiscoveryError(err error) error   { return wrap(KindDiscovery, err) }
func ChannelError(err error) error     { return wrap(KindChannel, err) }
func SendError(err error) error        { return wrap(KindSend, err) }
func PersistenceError(err error) error { return wrap(KindPersistence, err) }

// KindOf looks through annotations, 0 for unclassified errors.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		next := errors.Cause(err)
		if next == err {
			if u, ok := err.(interface{ Unwrap() error }); ok {
				next = u.Unwrap()
			} else {
				return 0
			}
		}
		err = next
	}
	return 0
}
