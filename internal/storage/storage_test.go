package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vashsender/internal/config"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "teams/t1/imports/a.csv", strings.NewReader("email\na@b.c\n"), -1, "text/csv"))

	rc, err := s.Get(ctx, "teams/t1/imports/a.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "email\na@b.c\n", string(body))

	u, err := s.SignedURL(ctx, "teams/t1/imports/a.csv", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))

	require.NoError(t, s.Delete(ctx, "teams/t1/imports/a.csv"))
	_, err = s.Get(ctx, "teams/t1/imports/a.csv")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "teams/t1/imports/a.csv"))
}

func TestLocalStorage_StaysInsideRoot(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "../../escape.txt", strings.NewReader("x"), 1, "text/plain"))
	rc, err := s.Get(ctx, "escape.txt")
	require.NoError(t, err, "dot segments are resolved below the root")
	rc.Close()
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("team-1", "imports", `C:\Users\me\Contacts.XLSX`)
	assert.True(t, strings.HasPrefix(key, "teams/team-1/imports/"))
	assert.True(t, strings.HasSuffix(key, ".xlsx"))
	assert.NotEqual(t, key, ObjectKey("team-1", "imports", "Contacts.xlsx"))
}

func TestNew(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Provider: "local", BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(context.Background(), config.StorageConfig{Provider: "ftp"})
	assert.Error(t, err)
}
