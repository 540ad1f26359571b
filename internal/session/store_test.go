package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(timeout time.Duration) (*Store, *clock) {
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := NewStore(timeout, zap.NewNop())
	s.now = c.Now
	return s, c
}

func TestSession_AddFlowTransitions(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	ctx := context.Background()

	s.Do(1, func(sess *Session) {
		assert.Equal(t, StateIdle, sess.State())
		for _, ev := range []string{EventAdd, EventBusinessType, EventAddress, EventLocation, EventPackage, EventPhoto} {
			require.NoError(t, sess.Fire(ctx, ev))
		}
		assert.Equal(t, StateAwaitingConfirmation, sess.State())
	})
	assert.Equal(t, StateAwaitingConfirmation, s.State(1))

	s.Do(1, func(sess *Session) {
		require.NoError(t, sess.Fire(ctx, EventSubmit))
	})
	assert.Equal(t, StateIdle, s.State(1))
}

func TestSession_RejectsOutOfOrderEvent(t *testing.T) {
	s, _ := newTestStore(time.Minute)

	s.Do(1, func(sess *Session) {
		require.NoError(t, sess.Fire(context.Background(), EventAdd))
		err := sess.Fire(context.Background(), EventPhoto)
		assert.Error(t, err)
		assert.Equal(t, StateAwaitingBusinessType, sess.State())
	})
}

func TestSession_ResetAndEnd(t *testing.T) {
	s, _ := newTestStore(time.Minute)

	s.Do(1, func(sess *Session) {
		require.NoError(t, sess.Fire(context.Background(), EventODP))
		assert.True(t, sess.InODPFlow())
		sess.Data.Address = "x"
		sess.Reset()
		assert.Equal(t, StateIdle, sess.State())
		assert.Empty(t, sess.Data.Address)
	})
	assert.Equal(t, 1, s.Len())

	s.Do(1, func(sess *Session) { sess.End() })
	assert.Equal(t, 0, s.Len())
}

func TestStore_ExpiredSessionIsAbsent(t *testing.T) {
	s, c := newTestStore(15 * time.Minute)

	s.Do(7, func(sess *Session) {
		require.NoError(t, sess.Fire(context.Background(), EventAdd))
		sess.Data.BusinessType = "Retail"
	})

	c.Advance(16 * time.Minute)
	assert.Equal(t, StateIdle, s.State(7))

	s.Do(7, func(sess *Session) {
		assert.Equal(t, StateIdle, sess.State())
		assert.Empty(t, sess.Data.BusinessType)
	})
}

func TestStore_Sweep(t *testing.T) {
	s, c := newTestStore(15 * time.Minute)

	s.Do(1, func(*Session) {})
	c.Advance(10 * time.Minute)
	s.Do(2, func(*Session) {})
	c.Advance(6 * time.Minute)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.Sweep())
}

func TestStore_SerializesPerChat(t *testing.T) {
	s, _ := newTestStore(time.Minute)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Do(42, func(*Session) {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
			})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive)
	assert.Empty(t, s.locks)
}

func TestStore_DifferentChatsRunConcurrently(t *testing.T) {
	s, _ := newTestStore(time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	go s.Do(1, func(*Session) {
		close(entered)
		<-release
	})
	<-entered

	done := make(chan struct{})
	go func() {
		s.Do(2, func(*Session) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("chat 2 blocked behind chat 1")
	}
	close(release)
}

func TestStore_StartStop(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	require.NoError(t, s.Start())
	s.Stop()
}
