package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	id     string
	userID string
}

func (s *fakeSink) ID() string                { return s.id }
func (s *fakeSink) UserID() string            { return s.userID }
func (s *fakeSink) Send(payload []byte) error { return nil }

func newFakeSink(userID string) *fakeSink {
	return &fakeSink{id: uuid.NewString(), userID: userID}
}

func TestRegistry_Register_SingleConnection(t *testing.T) {
	req := require.New(t)
	reg := New()
	alice := uuid.NewString()

	// Given nobody is connected
	req.False(reg.IsOnline(alice))
	req.Empty(reg.ConnectionsOf(alice))

	// When alice connects
	sink := newFakeSink(alice)
	reg.Register(sink)

	// Then she is online with exactly that connection
	req.True(reg.IsOnline(alice))
	req.Len(reg.ConnectionsOf(alice), 1)
	req.Equal(1, reg.Count())
}

func TestRegistry_Register_MultipleConnectionsPerIdentity(t *testing.T) {
	req := require.New(t)
	reg := New()
	alice := uuid.NewString()

	// When alice opens two tabs
	tab1 := newFakeSink(alice)
	tab2 := newFakeSink(alice)
	reg.Register(tab1)
	reg.Register(tab2)

	req.Len(reg.ConnectionsOf(alice), 2)

	// And closing one keeps her online
	last := reg.Unregister(tab1)
	req.False(last)
	req.True(reg.IsOnline(alice))

	// Closing the other is her last connection
	last = reg.Unregister(tab2)
	req.True(last)
	req.False(reg.IsOnline(alice))
	req.Zero(reg.Count())
}

func TestRegistry_Register_IdempotentPerConnectionID(t *testing.T) {
	req := require.New(t)
	reg := New()
	sink := newFakeSink(uuid.NewString())

	reg.Register(sink)
	reg.Register(sink)

	req.Len(reg.ConnectionsOf(sink.UserID()), 1)
}

func TestRegistry_Unregister_UnknownConnectionIsNoop(t *testing.T) {
	req := require.New(t)
	reg := New()
	alice := uuid.NewString()
	reg.Register(newFakeSink(alice))

	// Unregistering a connection that was never registered changes nothing
	last := reg.Unregister(newFakeSink(alice))
	req.False(last)
	req.True(reg.IsOnline(alice))

	last = reg.Unregister(newFakeSink(uuid.NewString()))
	req.False(last)
}

func TestRegistry_ConnectionsOf_OfflineUserIsEmpty(t *testing.T) {
	req := require.New(t)
	reg := New()

	req.Empty(reg.ConnectionsOf(uuid.NewString()))
	req.False(reg.IsOnline(uuid.NewString()))
}
