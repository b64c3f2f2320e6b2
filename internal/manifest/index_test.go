package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_HTTPIndex_Releases(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"info": {"name": "dm-haiku"},
			"releases": {
				"0.0.4": [{"filename": "dm_haiku-0.0.4.tar.gz"}],
				"0.0.5": [],
				"0.0.5rc1": [],
				"0.1dev-r1116": []
			}
		}`))
	}))
	defer srv.Close()

	idx := NewHTTPIndex(srv.URL).WithClient(srv.Client())
	versions, err := idx.Releases(context.Background(), "DM_Haiku")
	require.NoError(t, err)

	assert.Equal(t, "/pypi/dm-haiku/json", requested, "lookups use the normalized name")

	// the unparseable legacy key is dropped, the rest come back sorted
	require.Len(t, versions, 3)
	assert.Equal(t, "0.0.4", versions[0].String())
	assert.Equal(t, "0.0.5rc1", versions[1].String())
	assert.Equal(t, "0.0.5", versions[2].String())
}

func Test_HTTPIndex_notFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	idx := NewHTTPIndex(srv.URL).WithClient(srv.Client())
	_, err := idx.Releases(context.Background(), "no-such-package")
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_HTTPIndex_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	idx := NewHTTPIndex(srv.URL).WithClient(srv.Client())
	_, err := idx.Releases(context.Background(), "jax")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func Test_FileIndex(t *testing.T) {
	snapshot := path.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(snapshot, []byte(`{
		"packages": {
			"DM_Haiku": ["0.0.5", "0.0.4"],
			"jax": ["0.2.12"]
		}
	}`), 0644))

	idx, err := LoadFileIndex(snapshot)
	require.NoError(t, err)

	versions, err := idx.Releases(context.Background(), "dm-haiku")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "0.0.4", versions[0].String(), "snapshot entries come back sorted")

	_, err = idx.Releases(context.Background(), "wandb")
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_LoadFileIndex_badVersion(t *testing.T) {
	snapshot := path.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(snapshot, []byte(`{"packages": {"jax": ["zzz"]}}`), 0644))

	_, err := LoadFileIndex(snapshot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jax")
}

func Test_LoadFileIndex_missingFile(t *testing.T) {
	_, err := LoadFileIndex(path.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
