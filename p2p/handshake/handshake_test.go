package handshake

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func exchange(t *testing.T, a, b *Hello, accept func(*Hello) error) (*Hello, *Hello, error) {
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	var (
		eg         errgroup.Group
		fromA, toA *Hello
	)
	eg.Go(func() error {
		var err error
		toA, err = Initiate(c1, a)
		return err
	})
	eg.Go(func() error {
		var err error
		fromA, err = Respond(c2, b, accept)
		if err != nil {
			// unblock the initiator waiting for a reply
			c2.Close()
		}
		return err
	})
	err := eg.Wait()
	return toA, fromA, err
}

func TestHandshake(t *testing.T) {
	a := &Hello{Cookie: NetworkCookie{1, 2}, Features: []string{"A", "B"}}
	b := &Hello{Cookie: NetworkCookie{1, 2}, Features: []string{"C"}}
	var accepted *Hello
	toA, fromA, err := exchange(t, a, b, func(h *Hello) error {
		accepted = h
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, b.Features, toA.Features)
	require.Equal(t, a.Features, fromA.Features)
	require.Equal(t, fromA, accepted)
}

func TestHandshakeNoFeatures(t *testing.T) {
	toA, fromA, err := exchange(t, &Hello{}, &Hello{}, nil)
	require.NoError(t, err)
	require.Empty(t, toA.Features)
	require.Empty(t, fromA.Features)
}

func TestHandshakeCookieMismatch(t *testing.T) {
	a := &Hello{Cookie: NetworkCookie{1}}
	b := &Hello{Cookie: NetworkCookie{2}}
	_, _, err := exchange(t, a, b, func(*Hello) error {
		t.Fatal("must not accept a peer from another network")
		return nil
	})
	require.ErrorIs(t, err, ErrCookieMismatch)
}

func TestHandshakeRejected(t *testing.T) {
	errRejected := errors.New("rejected")
	_, _, err := exchange(t, &Hello{}, &Hello{}, func(*Hello) error {
		return errRejected
	})
	require.Error(t, err)
}

func TestNetworkCookie(t *testing.T) {
	require.True(t, NetworkCookie(nil).Empty())
	require.Equal(t, "0102", NetworkCookie{1, 2}.String())
	require.True(t, NetworkCookie{1}.Equal(NetworkCookie{1}))
	require.False(t, NetworkCookie{1}.Equal(nil))
}
