package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/internal/testutil"
	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/ratelimit/distributed"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

// minuteStart is a Unix millisecond that is a multiple of one minute
// (2023-11-14T22:14:00Z).
const minuteStart = 1_700_000_040_000

func fixedLimiter(t *testing.T, clock *testutil.MockClock) distributed.Limiter {
	t.Helper()
	_, rdb := testutil.StartMiniredis(t)
	l, err := distributed.NewFixedWindow(distributed.Config{
		Store: connectedStore(t, rdb),
		Clock: clock.Now,
	})
	testutil.AssertNoError(t, err)
	return l
}

func okHandler(hits *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_SixthRequestRejected(t *testing.T) {
	clock := testutil.NewMockClockMillis(minuteStart + 1000)
	mw, err := RateLimit(RateLimitConfig{
		Limiter: fixedLimiter(t, clock),
		Window:  time.Minute,
		Max:     5,
		Message: "Too many requests",
	})
	testutil.AssertNoError(t, err)

	hits := 0
	h := mw(okHandler(&hits))

	for i := 0; i < 5; i++ {
		resp := serve(h, http.MethodGet, "/api/forum/topics", remoteClient)
		testutil.AssertEqual(t, resp.Code, http.StatusOK)
		testutil.AssertEqual(t, resp.Header().Get("X-RateLimit-Limit"), "5")
		testutil.AssertEqual(t, resp.Header().Get("X-RateLimit-Remaining"), strconv.Itoa(4-i))
		testutil.AssertEqual(t, resp.Header().Get("X-RateLimit-Reset"), "2023-11-14T22:15:00.000Z")
		testutil.AssertEqual(t, resp.Header().Get("Retry-After"), "")
	}

	resp := serve(h, http.MethodGet, "/api/forum/topics", remoteClient)
	testutil.AssertEqual(t, resp.Code, http.StatusTooManyRequests)
	testutil.AssertEqual(t, resp.Header().Get("X-RateLimit-Remaining"), "0")
	testutil.AssertEqual(t, resp.Header().Get("Retry-After"), "59")
	testutil.AssertEqual(t, hits, 5)

	var body rateLimitResponse
	testutil.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&body))
	testutil.AssertEqual(t, body, rateLimitResponse{Success: false, Error: "Too many requests", RetryAfter: 59})
}

func TestRateLimit_PrefixSeparatesLimits(t *testing.T) {
	clock := testutil.NewMockClockMillis(minuteStart)
	limiter := fixedLimiter(t, clock)

	auth, err := RateLimit(RateLimitConfig{Limiter: limiter, Window: time.Minute, Max: 1, Prefix: "auth:"})
	testutil.AssertNoError(t, err)
	general, err := RateLimit(RateLimitConfig{Limiter: limiter, Window: time.Minute, Max: 1})
	testutil.AssertNoError(t, err)

	hits := 0
	testutil.AssertEqual(t, serve(auth(okHandler(&hits)), http.MethodPost, "/login", remoteClient).Code, http.StatusOK)
	testutil.AssertEqual(t, serve(auth(okHandler(&hits)), http.MethodPost, "/login", remoteClient).Code, http.StatusTooManyRequests)
	testutil.AssertEqual(t, serve(general(okHandler(&hits)), http.MethodGet, "/", remoteClient).Code, http.StatusOK)
}

func TestRateLimit_KeyGeneratorAndSkip(t *testing.T) {
	clock := testutil.NewMockClockMillis(minuteStart)
	mw, err := RateLimit(RateLimitConfig{
		Limiter:      fixedLimiter(t, clock),
		Window:       time.Minute,
		Max:          1,
		KeyGenerator: func(r *http.Request) string { return r.Header.Get("X-User") },
		Skip:         func(r *http.Request) bool { return r.URL.Path == "/health" },
	})
	testutil.AssertNoError(t, err)

	hits := 0
	h := mw(okHandler(&hits))

	send := func(user, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remoteClient
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	testutil.AssertEqual(t, send("alice", "/"), http.StatusOK)
	testutil.AssertEqual(t, send("alice", "/"), http.StatusTooManyRequests)
	testutil.AssertEqual(t, send("bob", "/"), http.StatusOK)
	for i := 0; i < 3; i++ {
		testutil.AssertEqual(t, send("alice", "/health"), http.StatusOK)
	}
}

func TestRateLimit_FailOpenWithoutHeaders(t *testing.T) {
	_, rdb := testutil.StartMiniredis(t)
	limiter, err := distributed.NewSlidingWindow(distributed.Config{
		Store: store.NewWithRedis(rdb, store.Config{KeyPrefix: "app:"}),
	})
	testutil.AssertNoError(t, err)

	mw, err := RateLimit(RateLimitConfig{Limiter: limiter, Window: time.Minute, Max: 1})
	testutil.AssertNoError(t, err)

	hits := 0
	h := mw(okHandler(&hits))
	for i := 0; i < 3; i++ {
		resp := serve(h, http.MethodGet, "/", remoteClient)
		testutil.AssertEqual(t, resp.Code, http.StatusOK)
		testutil.AssertEqual(t, resp.Header().Get("X-RateLimit-Limit"), "")
	}
	testutil.AssertEqual(t, hits, 3)
}

func TestRateLimit_Validation(t *testing.T) {
	clock := testutil.NewMockClockMillis(minuteStart)
	limiter := fixedLimiter(t, clock)

	tests := []struct {
		name string
		cfg  RateLimitConfig
	}{
		{"nil limiter", RateLimitConfig{Window: time.Minute, Max: 1}},
		{"zero window", RateLimitConfig{Limiter: limiter, Max: 1}},
		{"zero max", RateLimitConfig{Limiter: limiter, Window: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RateLimit(tt.cfg); !gferrors.IsValidationError(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}
