package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-scheduling/internal/directory"
	"github.com/hackgods/slot-scheduling/internal/metrics"
)

func TestFakePeopleAreStablePerID(t *testing.T) {
	id := uuid.New()

	assert.Equal(t, fakePatient(id), fakePatient(id))
	assert.Equal(t, fakeDoctor(id), fakeDoctor(id))
	assert.Contains(t, specialties, fakeDoctor(id).Specialty)
}

func TestStubServesDirectoryClient(t *testing.T) {
	srv := httptest.NewServer(newRouter(zerolog.Nop()))
	t.Cleanup(srv.Close)

	client := directory.NewClient(srv.URL, srv.URL, time.Second, metrics.New())
	ctx := context.Background()

	id := uuid.New()
	p, err := client.ResolvePatient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.NotEmpty(t, p.DisplayName())
	assert.NotEmpty(t, p.Email)

	d, err := client.ResolveDoctor(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, d.DisplayName())

	_, err = client.ResolvePatient(ctx, uuid.Nil)
	assert.ErrorIs(t, err, directory.ErrNotFound)
}
