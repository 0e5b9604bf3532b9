package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datasync/internal/value"
)

func TestListCollisions(t *testing.T) {
	f := newFixture(t, WithQueryParams(value.Object{"owner": value.String("ada")}))
	f.net.PushJSON(`{"c1":{"uid":"r1","pre":{"v":0},"post":{"v":1}}}`)

	resp, err := f.ds.ListCollisions(context.Background())
	require.NoError(t, err)
	assert.Contains(t, resp, "c1")

	req := f.net.LastRequest()
	assert.Equal(t, "listCollisions", req.Fn())
	assert.Equal(t, parse(t, `{"owner":"ada"}`), req.Params["query_params"])
}

func TestRemoveCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ds.RemoveCollision(ctx, "")
	assert.Error(t, err)
	assert.Empty(t, f.net.Requests())

	f.net.PushJSON(`{}`)
	_, err = f.ds.RemoveCollision(ctx, "c1")
	require.NoError(t, err)

	req := f.net.LastRequest()
	assert.Equal(t, "removeCollision", req.Fn())
	assert.Equal(t, value.String("c1"), req.Params["hash"])

	boom := errors.New("unreachable")
	f.net.PushError(boom)
	_, err = f.ds.RemoveCollision(ctx, "c2")
	assert.ErrorIs(t, err, boom)
}

func TestCollisions_Closed(t *testing.T) {
	f := newFixture(t)
	f.ds.Close()

	_, err := f.ds.ListCollisions(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
