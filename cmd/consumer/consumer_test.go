package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/job-dispatch/internal/models"
)

type fakeApplier struct {
	failures int // number of times Apply fails before succeeding
	calls    int
	last     models.LocationUpdate
}

func (f *fakeApplier) Apply(ctx context.Context, u models.LocationUpdate) error {
	f.calls++
	f.last = u
	if f.calls <= f.failures {
		return errors.New("index unavailable")
	}
	return nil
}

func TestApplyWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	f := &fakeApplier{failures: 1}
	u := models.LocationUpdate{ProviderID: "p1", Location: models.Coord{Lat: 1, Lng: 2}, Online: true}

	require.NoError(t, applyWithRetry(context.Background(), f, u))
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, "p1", f.last.ProviderID)
}

func TestApplyWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeApplier{failures: 10}
	u := models.LocationUpdate{ProviderID: "p1"}

	err := applyWithRetry(context.Background(), f, u)
	require.Error(t, err)
	assert.Equal(t, 3, f.calls)
}
