package conn

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from   Mode
		o      Outcome
		expect Mode
	}{
		{LastKnown, Success, LastKnown},
		{LastKnown, Failure, LocalDiscovery},
		{LocalDiscovery, Success, LastKnown},
		{LocalDiscovery, Failure, CloudBroker},
		{CloudBroker, Success, CloudBroker},
		{CloudBroker, Failure, LocalDiscovery},
		{Manual, Success, Manual},
		{Manual, Failure, Manual},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%s/%v", c.from, c.o), func(t *testing.T) {
			assert.Equal(t, c.expect, Next(c.from, c.o))
		})
	}
	assert.Panics(t, func() { Next(ModeInvalid, Success) })
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	for _, m := range []Mode{LocalDiscovery, CloudBroker, LastKnown, Manual} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("invalid")
	assert.True(t, errors.IsNotValid(err))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("radio silent")
	assert.Equal(t, KindLink, KindOf(LinkError(base)))
	assert.Equal(t, KindSend, KindOf(errors.Annotate(SendError(base), "tick")))
	assert.Equal(t, KindDiscovery, KindOf(errors.Trace(DiscoveryError(base))))
	assert.Equal(t, Kind(0), KindOf(base))
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Nil(t, ChannelError(nil))
	assert.Equal(t, "persistence: radio silent", PersistenceError(base).Error())
}

func TestEndpoint(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "192.168.4.10:5000", Endpoint{"192.168.4.10", 5000}.String())
	assert.True(t, Endpoint{}.IsZero())
	assert.Equal(t, "", Endpoint{}.String())
}
