package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/internal/testutil"
	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
)

func TestConnTracker(t *testing.T) {
	rec := newFakeRecorder(true)
	pool := newPool(t)
	tracker, err := NewConnTracker(rec, pool, nil)
	testutil.AssertNoError(t, err)

	var lastLive int64
	tracker.OnChange = func(live int64) { lastLive = live }

	remote := connFrom("203.0.113.7")
	local := connFrom("127.0.0.1")
	hijacked := connFrom("198.51.100.3")

	tracker.Hook(remote, http.StateNew)
	tracker.Hook(local, http.StateNew)
	tracker.Hook(hijacked, http.StateNew)
	tracker.Hook(remote, http.StateActive)
	testutil.AssertEqual(t, tracker.Live(), int64(3))

	tracker.Hook(remote, http.StateClosed)
	tracker.Hook(local, http.StateClosed)
	tracker.Hook(hijacked, http.StateHijacked)
	testutil.AssertEqual(t, tracker.Live(), int64(0))
	testutil.AssertEqual(t, lastLive, int64(0))

	drain(t, pool)
	testutil.AssertEqual(t, rec.incs.Load(), int32(2))
	testutil.AssertEqual(t, rec.decs.Load(), int32(2))
}

func TestConnTracker_OnlyDecrementsCountedConnections(t *testing.T) {
	rec := newFakeRecorder(false)
	pool := newPool(t)
	tracker, err := NewConnTracker(rec, pool, nil)
	testutil.AssertNoError(t, err)

	conn := connFrom("203.0.113.7")
	tracker.Hook(conn, http.StateNew)

	// The store recovers while the connection is open.
	rec.ready.Store(true)
	tracker.Hook(conn, http.StateClosed)

	drain(t, pool)
	testutil.AssertEqual(t, rec.incs.Load(), int32(0))
	testutil.AssertEqual(t, rec.decs.Load(), int32(0))
}

func TestConnTracker_DroppedIncrementIsNotDecremented(t *testing.T) {
	rec := newFakeRecorder(true)
	pool := newSerialPool(t)
	tracker, err := NewConnTracker(rec, pool, nil)
	testutil.AssertNoError(t, err)

	a := connFrom("203.0.113.7")
	b := connFrom("198.51.100.3")

	tracker.Hook(a, http.StateNew)
	testutil.Eventually(t, func() bool { return rec.incs.Load() == 1 }, time.Second, time.Millisecond)

	// With the queue full, b's increment is dropped, so its close must not
	// take a away from the shared gauge.
	release := saturate(t, pool)
	tracker.Hook(b, http.StateNew)
	tracker.Hook(b, http.StateClosed)
	release()
	drain(t, pool)

	testutil.AssertEqual(t, tracker.Live(), int64(1))
	testutil.AssertEqual(t, rec.incs.Load(), int32(1))
	testutil.AssertEqual(t, rec.decs.Load(), int32(0))
	testutil.AssertEqual(t, pool.Stats().Dropped, int64(1))
}

func TestConnTracker_DecrementWaitsForIncrement(t *testing.T) {
	rec := newOrderedRecorder()
	pool := newPool(t)
	tracker, err := NewConnTracker(rec, pool, nil)
	testutil.AssertNoError(t, err)

	conn := connFrom("203.0.113.7")
	tracker.Hook(conn, http.StateNew)
	tracker.Hook(conn, http.StateClosed)

	// Give the second worker time to pick up the decrement.
	time.Sleep(20 * time.Millisecond)
	close(rec.gate)
	drain(t, pool)

	testutil.AssertEqual(t, rec.Events(), "inc,dec")
}

func TestNewConnTracker_Validation(t *testing.T) {
	if _, err := NewConnTracker(nil, newPool(t), nil); !gferrors.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
