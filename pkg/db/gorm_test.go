package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type migrationProbe struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestNewGormDB_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "probe.db")
	gdb, err := NewGormDB(Config{Type: "sqlite", DSN: dsn, LogLevel: logger.Silent})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(gdb, &migrationProbe{}))
	require.NoError(t, gdb.Create(&migrationProbe{Name: "probe"}).Error)

	var got migrationProbe
	require.NoError(t, gdb.First(&got).Error)
	assert.Equal(t, "probe", got.Name)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	assert.NoError(t, sqlDB.Close())

	_, statErr := os.Stat(dsn)
	assert.NoError(t, statErr)
}

func TestNewGormDB_UnsupportedType(t *testing.T) {
	_, err := NewGormDB(Config{Type: "oracle"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported DB_TYPE "oracle"`)
}
