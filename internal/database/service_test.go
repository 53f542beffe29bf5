package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"acore-backup/internal/errors"
	"acore-backup/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     "db.local",
		Port:     3306,
		Username: "root",
		Password: "p@ss:word",
		Timeout:  5 * time.Second,
	}
}

func TestDSN(t *testing.T) {
	cfg := testConfig()
	dsn := cfg.DSN("acore_world")

	assert.True(t, strings.HasPrefix(dsn, "root:p@ss:word@tcp(db.local:3306)/acore_world?"))
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.NotContains(t, dsn, "parseTime=true")
	assert.NotContains(t, dsn, "multiStatements=true")
}

func TestDatabaseConfigValidate(t *testing.T) {
	cfg := DatabaseConfig{}
	assert.Error(t, cfg.Validate())

	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, "root", cfg.Username)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestConnectPingsDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	var gotDSN string
	svc := NewService(testConfig(), logging.NewNopLogger()).WithOpenFunc(func(dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return db, nil
	})

	conn, err := svc.Connect(context.Background(), "acore_auth")
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Contains(t, gotDSN, "/acore_auth?")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(stderrors.New("connection refused"))

	svc := NewService(testConfig(), logging.NewNopLogger()).WithOpenFunc(func(string) (*sql.DB, error) {
		return db, nil
	})

	_, err = svc.Connect(context.Background(), "acore_auth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectOpenFailure(t *testing.T) {
	svc := NewService(testConfig(), logging.NewNopLogger()).WithOpenFunc(func(string) (*sql.DB, error) {
		return nil, stderrors.New("unknown driver")
	})

	_, err := svc.Connect(context.Background(), "acore_auth")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeUnknown, errors.GetErrorType(err))
}
