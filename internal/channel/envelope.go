package channel

import "github.com/juju/errors"

// Socket frame: [1 byte name length][event name][payload]

func EncodeEvent(name string, payload []byte) ([]byte, error) {
	if len(name) == 0 || len(name) > 255 {
		return nil, errors.NotValidf("event name length=%d", len(name))
	}
	b := make([]byte, 0, 1+len(name)+len(payload))
	b = append(b, byte(len(name)))
	b = append(b, name...)
	b = append(b, payload...)
	return b, nil
}

func DecodeEvent(b []byte) (name string, payload []byte, err error) {
	if len(b) < 2 {
		return "", nil, errors.NotValidf("event frame length=%d", len(b))
	}
	n := int(b[0])
	if n == 0 || len(b) < 1+n {
		return "", nil, errors.NotValidf("event frame name length=%d frame=%d", n, len(b))
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}
