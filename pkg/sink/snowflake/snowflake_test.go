package snowflake

import (
	"testing"

	"github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn, err := DSN(config.SnowflakeConfig{
		Account:   "acme-eu1",
		User:      "loader",
		Password:  "secret",
		Database:  "ADS",
		Schema:    "RAW",
		Warehouse: "LOAD_WH",
		Role:      "LOADER",
	})
	require.NoError(t, err)

	parsed, err := gosnowflake.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "acme-eu1", parsed.Account)
	assert.Equal(t, "loader", parsed.User)
	assert.Equal(t, "ADS", parsed.Database)
	assert.Equal(t, "RAW", parsed.Schema)
	assert.Equal(t, "LOAD_WH", parsed.Warehouse)
	assert.Equal(t, "LOADER", parsed.Role)
}
