package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateGetDelete(t *testing.T) {
	recorder := &fakeRecorder{}
	r := NewRegistry(Options{Client: &fakeClient{}, Recorder: recorder}, time.Hour)
	t.Cleanup(r.Close)

	a := r.Create()
	b := r.Create()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, recorder.count())

	got, err := r.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, r.Delete(a.ID()))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, recorder.count())

	_, err = r.Get(a.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, r.Delete(a.ID()), ErrSessionNotFound)

	err = a.Upload(context.Background(), "clip.mp4", "video/mp4", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_LookupRacingEvictionDoesNotResurrect(t *testing.T) {
	r := NewRegistry(Options{Client: &fakeClient{}}, time.Hour)
	t.Cleanup(r.Close)

	ctrl := r.Create()
	id := ctrl.ID()

	// The session is evicted after a lookup found it but before the lookup
	// refreshed its deadline.
	require.NoError(t, r.Delete(id))
	assert.False(t, r.touch(id, ctrl))

	assert.Equal(t, 0, r.Len())
	_, err := r.Get(id)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_GetExtendsIdleDeadline(t *testing.T) {
	r := NewRegistry(Options{Client: &fakeClient{}}, 600*time.Millisecond)
	t.Cleanup(r.Close)

	ctrl := r.Create()
	for i := 0; i < 6; i++ {
		time.Sleep(150 * time.Millisecond)
		got, err := r.Get(ctrl.ID())
		require.NoError(t, err)
		assert.Same(t, ctrl, got)
	}
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	r := NewRegistry(Options{Client: &fakeClient{}}, time.Hour)
	t.Cleanup(r.Close)

	a := r.Create()
	b := r.Create()

	uploadVideo(t, a, "clip.mp4")
	waitIdle(t, a)

	assert.Equal(t, StateActive, a.Snapshot().State)
	assert.Equal(t, StateIdle, b.Snapshot().State)
}

func TestRegistry_IdleSessionsExpire(t *testing.T) {
	recorder := &fakeRecorder{}
	r := NewRegistry(Options{Client: &fakeClient{}, Recorder: recorder}, 40*time.Millisecond)
	t.Cleanup(r.Close)

	ctrl := r.Create()
	require.Equal(t, 1, recorder.count())

	require.Eventually(t, func() bool {
		return r.Len() == 0 && recorder.count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := r.Get(ctrl.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = ctrl.Chat(context.Background(), "still there?")
	require.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_CloseClosesSessions(t *testing.T) {
	r := NewRegistry(Options{Client: &fakeClient{}}, time.Hour)
	ctrl := r.Create()

	r.Close()
	r.Close()

	assert.Equal(t, 0, r.Len())
	err := ctrl.Upload(context.Background(), "clip.mp4", "video/mp4", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrClosed)
}
