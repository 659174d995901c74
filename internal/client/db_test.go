package client

import (
	"petshop-checkout/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestInitDatabase_LogsSQLErrorsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, err := InitDatabase("sqlite", "file:client_db_logging?mode=memory&cache=shared", zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	logs.TakeAll()

	var order model.Order
	err = db.Where("id = ?", 42).First(&order).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "missing rows are expected on idempotency lookups")

	require.Error(t, db.Exec("SELECT * FROM no_such_table").Error)
	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "gorm", entries[0].LoggerName)
	assert.Contains(t, entries[0].Message, "no such table")
}

func TestInitDatabase_UnknownDriver(t *testing.T) {
	_, err := InitDatabase("postgres", "", zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}
