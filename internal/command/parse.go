// Package command accepts remote commands from dashboard channels,
// journals them and hands them one by one to Executor.
package command

import (
	"bytes"
	"strings"

	"github.com/juju/errors"
)

const (
	DefaultMaxLength = 128

	forbiddenChars = ";|&`$<>\r\n"
)

var (
	keyCommand   = []byte(`"command"`)
	keywordRelay = []byte("relay")
)

// Parse recognizes command in raw inbound message without full decoding.
// Accepted forms: JSON object with "command" string field, or bare text mentioning relay.
func Parse(raw []byte) (string, error) {
	if i := bytes.Index(raw, keyCommand); i >= 0 {
		s, ok := quotedValue(raw[i+len(keyCommand):])
		if !ok {
			return "", errors.NotValidf("command field in %q", truncate(raw))
		}
		return s, nil
	}
	if bytes.Contains(bytes.ToLower(raw), keywordRelay) {
		return string(bytes.TrimSpace(raw)), nil
	}
	return "", errors.NotValidf("message %q is not a command", truncate(raw))
}

// quotedValue reads `  : "value"` at the start of b.
func quotedValue(b []byte) (string, bool) {
	b = bytes.TrimLeft(b, " \t")
	if len(b) == 0 || b[0] != ':' {
		return "", false
	}
	b = bytes.TrimLeft(b[1:], " \t")
	if len(b) == 0 || b[0] != '"' {
		return "", false
	}
	var sb strings.Builder
	for i := 1; i < len(b); i++ {
		switch c := b[i]; c {
		case '"':
			return sb.String(), true
		case '\\':
			if i+1 < len(b) {
				i++
				sb.WriteByte(b[i])
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", false
}

// Validate rejects empty, oversized commands and anything resembling shell syntax.
func Validate(cmd string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	switch {
	case cmd == "":
		return errors.NotValidf("empty command")
	case len(cmd) > maxLength:
		return errors.NotValidf("command length=%d max=%d", len(cmd), maxLength)
	case strings.ContainsAny(cmd, forbiddenChars):
		return errors.NotValidf("command %q contains forbidden characters", cmd)
	}
	return nil
}

func truncate(b []byte) []byte {
	const max = 64
	if len(b) > max {
		return b[:max]
	}
	return b
}
