package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled)
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(context.Background(), Config{})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.DB())
	require.NotNil(t, manager.Repository())
	assert.NotNil(t, manager.Repository().Opportunities)
	assert.NoError(t, manager.Ping(context.Background()))
	assert.NoError(t, manager.Close())

	check := manager.Health(context.Background())
	assert.True(t, check.Healthy)
	assert.False(t, check.Enabled)
	assert.Contains(t, check.Errors[0], "disabled")
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(context.Background(), Config{Enabled: true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestManager_Health(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), Config{Enabled: true})
	assert.True(t, manager.IsEnabled())

	mock.ExpectPing()
	check := manager.Health(context.Background())
	assert.True(t, check.Healthy)
	assert.True(t, check.Enabled)
	assert.Empty(t, check.Errors)
	assert.Contains(t, check.ConnectionPool, "open")

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	check = manager.Health(context.Background())
	assert.False(t, check.Healthy)
	require.Len(t, check.Errors, 1)
	assert.Contains(t, check.Errors[0], "ping failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_RepositoryPing(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), Config{Enabled: true})

	mock.ExpectPing()
	assert.NoError(t, manager.Repository().Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
