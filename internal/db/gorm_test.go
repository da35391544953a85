package db

import (
	"path/filepath"
	"testing"

	"collabcode/internal/config"
	"collabcode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGormSqliteCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		DBDriver: "sqlite",
		DBDSN:    filepath.Join(dir, "nested", "collabcode.db"),
	}

	gdb, err := NewGorm(cfg)
	require.NoError(t, err)
	defer gdb.Close()

	assert.True(t, gdb.Migrator().HasTable(&models.CodeSnapshot{}))
}

func TestNewGormRejectsUnknownDriver(t *testing.T) {
	_, err := NewGorm(&config.Config{DBDriver: "mysql"})
	assert.Error(t, err)
}
