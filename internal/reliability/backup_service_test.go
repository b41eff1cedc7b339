package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	testingpkg "github.com/aristath/papertrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, key string, body io.Reader) error {
	args := m.Called(ctx, key, body)
	return args.Error(0)
}

func (m *mockStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	args := m.Called(ctx, prefix)
	objects, _ := args.Get(0).([]ObjectInfo)
	return objects, args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := map[string][]byte{}
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = content
	}
	return files
}

func backupKey(prefix string, ts time.Time) string {
	return prefix + "/" + archivePrefix + ts.Format(timestampLayout) + archiveSuffix
}

func TestBackupService_CreateAndUploadBackup(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()

	store := &mockStore{}
	var uploaded []byte
	store.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "papertrader/"+archivePrefix) && strings.HasSuffix(key, archiveSuffix)
	}), mock.Anything).Run(func(args mock.Arguments) {
		data, err := io.ReadAll(args.Get(2).(io.Reader))
		require.NoError(t, err)
		uploaded = data
	}).Return(nil)

	service := NewBackupService(db, store, "/papertrader/", t.TempDir(), 30, zerolog.Nop())
	key, err := service.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "papertrader/"))
	store.AssertExpectations(t)

	files := readArchive(t, uploaded)
	require.Contains(t, files, "ledger.db")
	require.Contains(t, files, metadataFile)
	assert.NotEmpty(t, files["ledger.db"])

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFile], &metadata))
	require.Len(t, metadata.Databases, 1)
	assert.Equal(t, "ledger", metadata.Databases[0].Name)
	assert.Equal(t, int64(len(files["ledger.db"])), metadata.Databases[0].SizeBytes)
	assert.True(t, strings.HasPrefix(metadata.Databases[0].Checksum, "sha256:"))
}

func TestBackupService_UploadFailure(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()

	store := &mockStore{}
	store.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket unreachable"))

	service := NewBackupService(db, store, "papertrader", t.TempDir(), 30, zerolog.Nop())
	err := service.Backup(context.Background())
	assert.EqualError(t, err, "bucket unreachable")
	store.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestBackupService_ListBackups(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	older := now.Add(-48 * time.Hour)
	newer := now.Add(-2 * time.Hour)

	store := &mockStore{}
	store.On("List", mock.Anything, "papertrader/"+archivePrefix).Return([]ObjectInfo{
		{Key: backupKey("papertrader", older), SizeBytes: 10},
		{Key: "papertrader/" + archivePrefix + "garbage" + archiveSuffix},
		{Key: "papertrader/notes.txt"},
		{Key: backupKey("papertrader", newer), SizeBytes: 20},
	}, nil)

	service := NewBackupService(nil, store, "papertrader", t.TempDir(), 30, zerolog.Nop())
	service.now = func() time.Time { return now }

	backups, err := service.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0].Timestamp)
	assert.Equal(t, int64(2), backups[0].AgeHours)
	assert.Equal(t, int64(20), backups[0].SizeBytes)
	assert.Equal(t, older, backups[1].Timestamp)
	assert.Equal(t, int64(48), backups[1].AgeHours)
}

func TestBackupService_RotateOldBackups(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	days := []int{1, 2, 40, 50, 60}

	var objects []ObjectInfo
	for _, d := range days {
		objects = append(objects, ObjectInfo{Key: backupKey("papertrader", now.AddDate(0, 0, -d))})
	}

	store := &mockStore{}
	store.On("List", mock.Anything, mock.Anything).Return(objects, nil)
	store.On("Delete", mock.Anything, backupKey("papertrader", now.AddDate(0, 0, -50))).Return(nil)
	store.On("Delete", mock.Anything, backupKey("papertrader", now.AddDate(0, 0, -60))).Return(errors.New("denied"))

	service := NewBackupService(nil, store, "papertrader", t.TempDir(), 30, zerolog.Nop())
	service.now = func() time.Time { return now }

	require.NoError(t, service.RotateOldBackups(context.Background(), 30))
	store.AssertExpectations(t)
	// The 40 day old backup is expired but still among the newest three
	store.AssertNotCalled(t, "Delete", mock.Anything, backupKey("papertrader", now.AddDate(0, 0, -40)))
}

func TestBackupService_RotateDisabled(t *testing.T) {
	store := &mockStore{}
	service := NewBackupService(nil, store, "papertrader", t.TempDir(), 0, zerolog.Nop())

	require.NoError(t, service.RotateOldBackups(context.Background(), 0))
	store.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}
