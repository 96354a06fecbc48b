package metrics

import (
	"context"
	"testing"
	"time"

	tu "github.com/lipeng1667/HomeAssistantBackend-sub000/internal/testutil"
	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

func TestSampler_Tick(t *testing.T) {
	agg, mr := newAggregator(t)
	clock := tu.NewMockClock(time.Unix(1_700_000_000, 0))

	s, err := NewSampler(agg, SamplerConfig{Interval: 5 * time.Second, Clock: clock.Now})
	tu.AssertNoError(t, err)
	ctx := context.Background()

	tu.AssertNoError(t, agg.IncrementRequests(ctx, topics, 10))

	// First tick primes the baseline only.
	tu.AssertNoError(t, s.Tick(ctx))
	if mr.Exists("app:metrics:throughput:current") {
		t.Fatal("first tick should not publish throughput")
	}

	tu.AssertNoError(t, agg.IncrementRequests(ctx, topics, 52))
	clock.Advance(5 * time.Second)
	tu.AssertNoError(t, s.Tick(ctx))

	snap, err := agg.Snapshot(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, snap.Throughput.Current, 10.4)
	tu.AssertEqual(t, snap.Throughput.Max, 10.4)

	// A reset makes the delta negative; it is reported as zero.
	_, err = agg.ResetCounters(ctx)
	tu.AssertNoError(t, err)
	clock.Advance(5 * time.Second)
	tu.AssertNoError(t, s.Tick(ctx))

	snap, err = agg.Snapshot(ctx)
	tu.AssertNoError(t, err)
	tu.AssertEqual(t, snap.Throughput.Current, 0.0)
}

func TestSampler_SkipsWhenNotReady(t *testing.T) {
	mr, rdb := tu.StartMiniredis(t)
	agg, err := NewAggregator(store.NewWithRedis(rdb, store.Config{KeyPrefix: "app:"}))
	tu.AssertNoError(t, err)

	s, err := NewSampler(agg, SamplerConfig{})
	tu.AssertNoError(t, err)

	tu.AssertNoError(t, s.Tick(context.Background()))
	tu.AssertNoError(t, s.Tick(context.Background()))
	if len(mr.Keys()) != 0 {
		t.Errorf("expected no writes, got %v", mr.Keys())
	}
}

func TestSampler_Validation(t *testing.T) {
	_, err := NewSampler(nil, SamplerConfig{})
	if !gferrors.IsValidationError(err) {
		t.Errorf("expected validation error for nil aggregator, got %v", err)
	}

	agg, _ := newAggregator(t)
	_, err = NewSampler(agg, SamplerConfig{Interval: -time.Second})
	if !gferrors.IsValidationError(err) {
		t.Errorf("expected validation error for negative interval, got %v", err)
	}
}

func TestSampler_StartStop(t *testing.T) {
	agg, _ := newAggregator(t)
	s, err := NewSampler(agg, SamplerConfig{Interval: time.Second})
	tu.AssertNoError(t, err)

	s.Start()
	ctx, cancel := tu.WithTimeout(t)
	defer cancel()
	tu.AssertNoError(t, s.Stop(ctx))
}

func TestThroughput(t *testing.T) {
	tests := []struct {
		delta   int64
		elapsed time.Duration
		want    float64
	}{
		{0, 5 * time.Second, 0},
		{-40, 5 * time.Second, 0},
		{10, 0, 0},
		{52, 5 * time.Second, 10.4},
		{1, 3 * time.Second, 0.33},
		{2, 3 * time.Second, 0.67},
	}
	for _, tt := range tests {
		tu.AssertEqual(t, throughput(tt.delta, tt.elapsed), tt.want)
	}
}
