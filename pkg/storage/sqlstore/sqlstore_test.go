package sqlstore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/storage/sqlstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *sqlstore.Database

func TestMain(m *testing.M) {
	dbPath := filepath.Join(os.TempDir(), "fedmob_test_"+uuid.NewString()+".db")

	var err error
	testDB, err = sqlstore.NewDatabase(sqlstore.SQLite, dbPath)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	testDB.Close()
	os.Remove(dbPath)

	os.Exit(code)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	key := "rounds/" + uuid.NewString()

	cases := []struct {
		desc string
		key  string
		err  error
	}{
		{desc: "create new entry", key: key},
		{desc: "create duplicate entry", key: key, err: pkgerrors.ErrEntityExists},
		{desc: "create with empty key", key: "", err: pkgerrors.ErrEmptyKey},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := testDB.Create(ctx, tc.key, []byte("value"))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestGetUpdatePutDelete(t *testing.T) {
	ctx := context.Background()
	key := "models/" + uuid.NewString()

	require.NoError(t, testDB.Create(ctx, key, []byte{0x01, 0x02}))

	got, err := testDB.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got)

	require.NoError(t, testDB.Update(ctx, key, []byte{0x03}))
	assert.ErrorIs(t, testDB.Update(ctx, "models/missing", []byte{0x03}), pkgerrors.ErrNotFound)

	require.NoError(t, testDB.Put(ctx, key, []byte{0x04}))
	got, err = testDB.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04}, got)

	require.NoError(t, testDB.Delete(ctx, key))
	assert.ErrorIs(t, testDB.Delete(ctx, key), pkgerrors.ErrNotFound)

	_, err = testDB.Get(ctx, key)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	prefix := "list_" + uuid.NewString()[:8] + "/"

	for i := 3; i >= 1; i-- {
		require.NoError(t, testDB.Put(ctx, fmt.Sprintf("%s%06d", prefix, i), []byte{byte(i)}))
	}
	// Wildcards in the prefix are matched literally.
	require.NoError(t, testDB.Put(ctx, "list_%/000001", []byte{9}))

	entries, total, err := testDB.List(ctx, prefix, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	require.Len(t, entries, 2)
	assert.Equal(t, prefix+"000002", entries[0].Key)
	assert.Equal(t, []byte{3}, entries[1].Value)

	entries, total, err = testDB.List(ctx, "list_%/", 0, ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Len(t, entries, 1)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := sqlstore.NewDatabase("mysql", "")
	assert.ErrorIs(t, err, sqlstore.ErrDriver)
}
