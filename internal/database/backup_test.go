package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"concierge/internal/config"
	"concierge/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "records.db")
	storagePath := filepath.Join(tempDir, "backups")

	db := newTestDBAt(t, dbPath)
	_, err := db.SeedQueue(context.Background(), []models.QueueEntry{{ID: 5, Name: "Charlie Green", EstimatedDurationMinutes: 60}})
	require.NoError(t, err)

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	logger := zerolog.Nop()
	s := NewBackupService(dbPath, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		require.NoError(t, s.PerformBackup())

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		require.Len(t, files, 1)

		backup, err := NewDB(filepath.Join(storagePath, files[0].Name()), nil)
		require.NoError(t, err)
		defer backup.Close()
		queue, err := backup.ListQueue(context.Background())
		require.NoError(t, err)
		assert.Len(t, queue, 1)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "records_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		s.CleanupOldBackups()

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		for _, f := range files {
			assert.NotEqual(t, "records_old.db", f.Name())
		}
	})
}

func TestBackupService_StartStop(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "records.db")
	newTestDBAt(t, dbPath)

	logger := zerolog.Nop()
	s := NewBackupService(dbPath, config.BackupConfig{
		Enabled:     true,
		Schedule:    "@every 1h",
		StoragePath: filepath.Join(tempDir, "backups"),
	}, &logger)

	require.NoError(t, s.Start())
	s.Stop()

	files, err := os.ReadDir(filepath.Join(tempDir, "backups"))
	require.NoError(t, err)
	assert.Len(t, files, 1, "initial backup runs on start")
}

func TestBackupService_InvalidSchedule(t *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService("any", config.BackupConfig{Enabled: true, Schedule: "every tuesday"}, &logger)
	assert.Error(t, s.Start())
}

func TestBackupService_Disabled(t *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService("any", config.BackupConfig{Enabled: false}, &logger)
	assert.NoError(t, s.Start())
	s.Stop()
}
