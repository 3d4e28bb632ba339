package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/remote"
	"github.com/avbaker/shelfsync/internal/sync/mocks"
	"github.com/avbaker/shelfsync/internal/syncerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newDeltaClient(t *testing.T) (*DeltaClient, *mocks.MockRemote) {
	t.Helper()

	ctrl := gomock.NewController(t)
	r := mocks.NewMockRemote(ctrl)

	return NewDeltaClient(r, testLogger()), r
}

func TestDeltaPull_ClassifiesFeedItems(t *testing.T) {
	d, r := newDeltaClient(t)

	r.EXPECT().Delta(gomock.Any(), "cur-1").Return(remote.DeltaPage{
		Items: []remote.DeltaItem{
			{ContentName: "a.dat"},
			{MetaName: "b.meta", Deleted: true},
		},
		NextToken: "cur-2",
		Done:      true,
	}, nil)
	r.EXPECT().DownloadMetadata(gomock.Any(), "a").Return(models.DocumentMetadata{ID: "a", Title: "doc a"}, nil)

	res, err := d.Pull(context.Background(), "cur-1")
	require.NoError(t, err)

	require.Len(t, res.Upserts, 1)
	assert.Equal(t, "a", res.Upserts[0].ID)
	assert.Equal(t, []string{"b"}, res.Deletes)
	assert.Equal(t, "cur-2", res.NextToken)
	assert.False(t, res.FullResync)
	assert.False(t, res.HadFailures)
	assert.Zero(t, res.Unresolved)
}

func TestDeltaPull_PagesToCompletion(t *testing.T) {
	d, r := newDeltaClient(t)

	r.EXPECT().Delta(gomock.Any(), "").Return(remote.DeltaPage{
		Items:      []remote.DeltaItem{{ContentName: "x.dat"}},
		NextToken:  "p2",
		FullResync: true,
	}, nil)
	r.EXPECT().Delta(gomock.Any(), "p2").Return(remote.DeltaPage{
		Items:     []remote.DeltaItem{{ContentName: "y.dat"}},
		NextToken: "p3",
		Done:      true,
	}, nil)
	r.EXPECT().DownloadMetadata(gomock.Any(), "x").Return(models.DocumentMetadata{ID: "x"}, nil)
	r.EXPECT().DownloadMetadata(gomock.Any(), "y").Return(models.DocumentMetadata{ID: "y"}, nil)

	res, err := d.Pull(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, res.Upserts, 2)
	assert.Equal(t, "p3", res.NextToken)
	assert.True(t, res.FullResync, "first-page full-resync marker must survive paging")
}

func TestDeltaPull_LaterDeleteSupersedesUpsert(t *testing.T) {
	d, r := newDeltaClient(t)

	r.EXPECT().Delta(gomock.Any(), "cur-1").Return(remote.DeltaPage{
		Items: []remote.DeltaItem{
			{ContentName: "a.dat"},
			{ContentName: "a.dat", Deleted: true},
		},
		Done: true,
	}, nil)

	res, err := d.Pull(context.Background(), "cur-1")
	require.NoError(t, err)

	assert.Empty(t, res.Upserts)
	assert.Equal(t, []string{"a"}, res.Deletes)
}

func TestDeltaPull_GoneMetadataReclassifiedAsDelete(t *testing.T) {
	d, r := newDeltaClient(t)

	r.EXPECT().Delta(gomock.Any(), "cur-1").Return(remote.DeltaPage{
		Items: []remote.DeltaItem{{ContentName: "a.dat"}},
		Done:  true,
	}, nil)
	r.EXPECT().DownloadMetadata(gomock.Any(), "a").
		Return(models.DocumentMetadata{}, syncerrors.ErrNotFound)

	res, err := d.Pull(context.Background(), "cur-1")
	require.NoError(t, err)

	assert.Empty(t, res.Upserts)
	assert.Equal(t, []string{"a"}, res.Deletes)
	assert.False(t, res.HadFailures, "a vanished object is a delete, not a failure")
}

func TestDeltaPull_FetchFailureCounted(t *testing.T) {
	d, r := newDeltaClient(t)

	r.EXPECT().Delta(gomock.Any(), "cur-1").Return(remote.DeltaPage{
		Items: []remote.DeltaItem{
			{ContentName: "a.dat"},
			{ContentName: "b.dat"},
		},
		NextToken: "cur-2",
		Done:      true,
	}, nil)
	r.EXPECT().DownloadMetadata(gomock.Any(), "a").Return(models.DocumentMetadata{ID: "a"}, nil)
	r.EXPECT().DownloadMetadata(gomock.Any(), "b").
		Return(models.DocumentMetadata{}, &syncerrors.TransientError{Err: errors.New("timeout")})

	res, err := d.Pull(context.Background(), "cur-1")
	require.NoError(t, err)

	assert.Len(t, res.Upserts, 1)
	assert.True(t, res.HadFailures, "failed fetches must disqualify the token")
}

func TestDeltaPull_NamelessDeleteCounted(t *testing.T) {
	d, r := newDeltaClient(t)

	r.EXPECT().Delta(gomock.Any(), "cur-1").Return(remote.DeltaPage{
		Items: []remote.DeltaItem{{Deleted: true}},
		Done:  true,
	}, nil)

	res, err := d.Pull(context.Background(), "cur-1")
	require.NoError(t, err)

	assert.Empty(t, res.Deletes)
	assert.Equal(t, 1, res.Unresolved)
}

func TestDeltaPull_FeedErrorAborts(t *testing.T) {
	d, r := newDeltaClient(t)

	r.EXPECT().Delta(gomock.Any(), "cur-1").
		Return(remote.DeltaPage{}, &syncerrors.TransientError{Err: errors.New("boom")})

	_, err := d.Pull(context.Background(), "cur-1")
	require.Error(t, err)
	assert.True(t, syncerrors.IsTransient(err))
}
