package staging

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutOpenDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	n, err := store.Put("job-1", ".csv", strings.NewReader("modelo,placa\nGol,ABC1D23\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	rc, err := store.Open("job-1", ".csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "modelo,placa\nGol,ABC1D23\n", string(data))

	path, err := store.Find("job-1")
	require.NoError(t, err)
	assert.Equal(t, store.Path("job-1", ".csv"), path)

	require.NoError(t, store.Delete("job-1"))

	_, err = store.Open("job-1", ".csv")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Find("job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Delete("never-staged"))
	assert.NoError(t, store.Delete("never-staged"))
}

func TestPutOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put("job-2", ".csv", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = store.Put("job-2", ".csv", strings.NewReader("second"))
	require.NoError(t, err)

	rc, err := store.Open("job-2", ".csv")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "second", string(data))
}
