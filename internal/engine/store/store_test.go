package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "test.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func migratedSQLite(t *testing.T) *SQLite {
	t.Helper()
	db := openTestSQLite(t)
	_, err := Migrate(context.Background(), db, discardLogger())
	require.NoError(t, err)
	return db
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)

	pending, err := Pending(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_created_at.sql"}, pending)

	applied, err := Migrate(ctx, db, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, pending, applied)

	pending, err = Pending(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, pending)

	again, err := Migrate(ctx, db, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLoadMigrationsOrdered(t *testing.T) {
	for _, dialect := range []string{"postgres", "sqlite"} {
		t.Run(dialect, func(t *testing.T) {
			ms, err := loadMigrations(dialect)
			require.NoError(t, err)
			require.NotEmpty(t, ms)
			for i, m := range ms {
				assert.Equal(t, i+1, m.version)
				assert.NotEmpty(t, m.sql)
			}
		})
	}
}

func TestSQLiteSaveAndGet(t *testing.T) {
	ctx := context.Background()
	db := migratedSQLite(t)

	saved, err := db.SaveTranscription(ctx, Record{
		UserID:         7,
		FileName:       "download_2024-01-02_03-04-05_abcd1234.mp3",
		UploadedFile:   []byte{1, 2, 3},
		TranscriptFile: []byte("hello"),
	})
	require.NoError(t, err)
	assert.Positive(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := db.GetTranscription(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, saved.FileName, got.FileName)
	assert.Equal(t, []byte{1, 2, 3}, got.UploadedFile)
	assert.Equal(t, []byte("hello"), got.TranscriptFile)
	assert.True(t, saved.CreatedAt.Equal(got.CreatedAt))

	_, err = db.GetTranscription(ctx, saved.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteEmptyTranscript(t *testing.T) {
	db := migratedSQLite(t)
	saved, err := db.SaveTranscription(context.Background(), Record{FileName: "silence.wav", UploadedFile: []byte{0}})
	require.NoError(t, err)

	got, err := db.GetTranscription(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TranscriptFile)
}

func TestSQLiteList(t *testing.T) {
	ctx := context.Background()
	db := migratedSQLite(t)

	for i, name := range []string{"a.wav", "b.wav", "c.wav"} {
		_, err := db.SaveTranscription(ctx, Record{
			UserID:         3,
			FileName:       name,
			UploadedFile:   make([]byte, 10*(i+1)),
			TranscriptFile: []byte("text"),
		})
		require.NoError(t, err)
	}
	_, err := db.SaveTranscription(ctx, Record{UserID: 4, FileName: "other.wav", UploadedFile: []byte{1}})
	require.NoError(t, err)

	list, err := db.ListTranscriptions(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c.wav", list[0].FileName)
	assert.Equal(t, int64(30), list[0].UploadedSize)
	assert.Equal(t, int64(4), list[0].TranscriptSize)
	assert.Equal(t, "b.wav", list[1].FileName)

	none, err := db.ListTranscriptions(ctx, 99, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSQLiteConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	db := migratedSQLite(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.SaveTranscription(ctx, Record{
				UserID:         int64(i),
				FileName:       "same.wav",
				UploadedFile:   []byte{byte(i)},
				TranscriptFile: []byte{byte(i)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		list, err := db.ListTranscriptions(ctx, int64(i), 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		rec, err := db.GetTranscription(ctx, list[0].ID)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, rec.UploadedFile)
		assert.Equal(t, []byte{byte(i)}, rec.TranscriptFile)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultListLimit},
		{-5, DefaultListLimit},
		{1, 1},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.in))
	}
}

func TestSQLitePing(t *testing.T) {
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ping.db"), discardLogger())
	require.NoError(t, err)
	assert.NoError(t, db.Ping(context.Background()))

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}
