package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// LOCAL
// =============================================================================

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(ctx, "w1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.held(), "slots are dropped once released")
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release1, err := l.Lock(ctx, "w1")
	require.NoError(t, err)
	defer release1()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	release2, err := l.Lock(ctx2, "w2")
	require.NoError(t, err)
	release2()
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocal()
	release, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "w1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	l := NewLocal()
	release, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)
	again()
}

func TestWithLocks_SortedAndDeduplicated(t *testing.T) {
	rec := &recordingLocker{inner: NewLocal()}

	err := WithLocks(context.Background(), rec, []string{"w3", "w1", "w2", "w1"}, func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "w3"}, rec.order)
	assert.Equal(t, 0, rec.inner.held())
}

func TestWithLocks_ReleasesOnError(t *testing.T) {
	l := NewLocal()
	boom := errors.New("boom")

	err := WithLocks(context.Background(), l, []string{"a", "b"}, func() error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.held())
}

type recordingLocker struct {
	inner *Local
	order []string
}

func (r *recordingLocker) Lock(ctx context.Context, key string) (func(), error) {
	r.order = append(r.order, key)
	return r.inner.Lock(ctx, key)
}

// =============================================================================
// REDIS
// =============================================================================

func fixedToken(tok string) RedisOption {
	return withTokens(func() string { return tok })
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedis(client, WithTTL(5*time.Second), fixedToken("tok-1"))

	mock.ExpectSetNX("settlement:lock:w1", "tok-1", 5*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"settlement:lock:w1"}, "tok-1").SetVal(int64(1))

	release, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)
	release()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_RetriesWhileHeld(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedis(client, WithTTL(time.Second), WithRetryDelay(time.Millisecond), WithPrefix("p:"), fixedToken("tok-2"))

	mock.ExpectSetNX("p:w1", "tok-2", time.Second).SetVal(false)
	mock.ExpectSetNX("p:w1", "tok-2", time.Second).SetVal(false)
	mock.ExpectSetNX("p:w1", "tok-2", time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"p:w1"}, "tok-2").SetVal(int64(1))

	release, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)
	release()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GivesUpWhenContextEnds(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedis(client, WithTTL(time.Second), WithRetryDelay(50*time.Millisecond), fixedToken("tok-3"))

	mock.ExpectSetNX("settlement:lock:w1", "tok-3", time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, "w1")

	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedis_PropagatesClientError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedis(client, fixedToken("tok-4"))

	mock.ExpectSetNX("settlement:lock:w1", "tok-4", 30*time.Second).SetErr(errors.New("connection refused"))

	_, err := l.Lock(context.Background(), "w1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
