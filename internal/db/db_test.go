package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vashsender/internal/config"
)

func TestDSN_FromFields(t *testing.T) {
	dsn, err := DSN(config.DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Name: "vs", SSLMode: "disable",
	})
	require.NoError(t, err)
	assert.Equal(t, "dbname='vs' host='db' password='p' port='5432' sslmode='disable' user='u'", dsn)
}

func TestDSN_QuotesPassword(t *testing.T) {
	dsn, err := DSN(config.DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: `s3cret pass'word\x`, Name: "vs",
	})
	require.NoError(t, err)
	assert.Contains(t, dsn, `password='s3cret pass\'word\\x'`)
	assert.NotContains(t, dsn, "sslmode")
	assert.Contains(t, dsn, "user='u'")
}

func TestDSN_FromURL(t *testing.T) {
	dsn, err := DSN(config.DatabaseConfig{URL: "postgres://u:p@db:5433/vs?sslmode=require"})
	require.NoError(t, err)
	assert.Equal(t, "dbname='vs' host='db' password='p' port='5433' sslmode='require' user='u'", dsn)

	_, err = DSN(config.DatabaseConfig{URL: "mysql://nope"})
	assert.Error(t, err)
}
