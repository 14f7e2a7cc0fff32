// Package persist keeps connection hints across restarts:
// last successful dashboard address and last successful network index.
package persist

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/log2"
	"github.com/temoto/extremofile"
)

const (
	recordVersion = 1
	HostMaxLen    = 64
	recordLen     = 2 + HostMaxLen + 2 + 2
	NoCredential  = -1
)

// Record is saved as fixed size binary.
// Storage rewrites file in place without truncation,
// so every encoding must have equal length.
type Record struct {
	Host      string
	Port      int
	CredIndex int // NoCredential if unknown
}

func Default() Record { return Record{CredIndex: NoCredential} }

func (r Record) HasAddress() bool { return r.Host != "" && r.Port != 0 }

func (r Record) Address() string {
	if !r.HasAddress() {
		return ""
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Record) MarshalBinary() ([]byte, error) {
	if len(r.Host) > HostMaxLen {
		return nil, errors.NotValidf("host length=%d max=%d", len(r.Host), HostMaxLen)
	}
	if r.Port < 0 || r.Port > 65535 {
		return nil, errors.NotValidf("port=%d", r.Port)
	}
	if r.CredIndex < NoCredential || r.CredIndex > 0xfffe {
		return nil, errors.NotValidf("credential index=%d", r.CredIndex)
	}
	b := make([]byte, recordLen)
	b[0] = recordVersion
	b[1] = byte(len(r.Host))
	copy(b[2:], r.Host)
	binary.BigEndian.PutUint16(b[2+HostMaxLen:], uint16(r.Port))
	binary.BigEndian.PutUint16(b[4+HostMaxLen:], uint16(r.CredIndex+1))
	return b, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < recordLen {
		return errors.NotValidf("record length=%d expected=%d", len(b), recordLen)
	}
	if b[0] != recordVersion {
		return errors.NotSupportedf("record version=%d", b[0])
	}
	hl := int(b[1])
	if hl > HostMaxLen {
		return errors.NotValidf("record host length=%d", hl)
	}
	r.Host = string(b[2 : 2+hl])
	r.Port = int(binary.BigEndian.Uint16(b[2+HostMaxLen:]))
	r.CredIndex = int(binary.BigEndian.Uint16(b[4+HostMaxLen:])) - 1
	return nil
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// Store binds Record to durable storage. Zero root disables IO, Load returns defaults.
type Store struct {
	mu      sync.Mutex
	log     *log2.Log
	storage storage
	current Record
	loaded  bool
}

func NewStore(root string, log *log2.Log) *Store {
	s := &Store{log: log, current: Default()}
	if root == "" {
		log.Debugf("persist disabled")
		return s
	}
	s.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, "link"),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return s
}

// Load never fails: absent or broken storage yields defaults.
func (s *Store) Load() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	if s.storage == nil {
		return s.current
	}
	tbegin := time.Now()
	b, err := s.storage.Read()
	s.log.Debugf("persist storage.read duration=%v", time.Since(tbegin))
	if err != nil {
		if extremofile.IsCritical(err) {
			s.log.Errorf("persist load, using defaults err=%v", err)
			s.current = Default()
			return s.current
		}
		s.log.Errorf("persist ignore non-critical storage err=%v", err)
	}
	if b == nil {
		s.current = Default()
		return s.current
	}
	r := Default()
	if err = r.UnmarshalBinary(b); err != nil {
		s.log.Errorf("persist decode, using defaults err=%v", err)
		s.current = Default()
		return s.current
	}
	s.current = r
	return r
}

func (s *Store) Current() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies f to cached record and writes it.
// Cache is updated even when write fails, caller should log and go on.
func (s *Store) Update(f func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	f(&next)
	b, err := next.MarshalBinary()
	if err != nil {
		return errors.Annotate(err, "persist encode")
	}
	s.current = next
	if s.storage == nil {
		return nil
	}
	tbegin := time.Now()
	_, err = s.storage.Write(b)
	s.log.Debugf("persist storage.write duration=%v", time.Since(tbegin))
	return errors.Annotate(err, "persist write")
}

func (s *Store) SaveAddress(host string, port int) error {
	return s.Update(func(r *Record) { r.Host, r.Port = host, port })
}

func (s *Store) PreferredCredential() int { return s.Current().CredIndex }

func (s *Store) SaveCredential(index int) error {
	return s.Update(func(r *Record) { r.CredIndex = index })
}
