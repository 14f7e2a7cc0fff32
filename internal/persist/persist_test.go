package persist

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/krti/uavlink/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBinary(t *testing.T) {
	t.Parallel()

	short, err := Record{Host: "10.0.0.5", Port: 5000, CredIndex: 2}.MarshalBinary()
	require.NoError(t, err)
	long, err := Record{Host: strings.Repeat("h", HostMaxLen), Port: 1, CredIndex: NoCredential}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, len(short), len(long), "encoding must be fixed size")

	var r Record
	require.NoError(t, r.UnmarshalBinary(short))
	assert.Equal(t, Record{Host: "10.0.0.5", Port: 5000, CredIndex: 2}, r)

	_, err = Record{Host: strings.Repeat("h", HostMaxLen+1)}.MarshalBinary()
	assert.Error(t, err)
	assert.Error(t, r.UnmarshalBinary([]byte{recordVersion}))
}

func TestStore(t *testing.T) {
	t.Parallel()

	dir, err := ioutil.TempDir("", "uavlink-persist-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	log := log2.NewTest(t, log2.LDebug)

	s := NewStore(dir, log)
	assert.Equal(t, Default(), s.Load(), "absent storage loads defaults")
	assert.False(t, s.Load().HasAddress())

	require.NoError(t, s.SaveAddress("dashboard.local", 5000))
	require.NoError(t, s.SaveCredential(1))
	require.NoError(t, s.SaveAddress("10.1.1.9", 8080))

	s2 := NewStore(dir, log)
	r := s2.Load()
	assert.Equal(t, Record{Host: "10.1.1.9", Port: 8080, CredIndex: 1}, r)
	assert.Equal(t, "10.1.1.9:8080", r.Address())
}

func TestStoreCorrupt(t *testing.T) {
	t.Parallel()

	dir, err := ioutil.TempDir("", "uavlink-persist-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	log := log2.NewTest(t, log2.LDebug)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "link"), 0755))
	for _, name := range []string{"extremofile.v1.main", "extremofile.v1.backup"} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "link", name), []byte("garbage"), 0644))
	}
	s := NewStore(dir, log)
	assert.Equal(t, Default(), s.Load())
}

func TestStoreDisabled(t *testing.T) {
	t.Parallel()

	s := NewStore("", log2.NewTest(t, log2.LDebug))
	assert.Equal(t, Default(), s.Load())
	require.NoError(t, s.SaveAddress("10.0.0.1", 5000))
	assert.Equal(t, "10.0.0.1:5000", s.Current().Address())
}
