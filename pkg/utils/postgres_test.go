package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostgresConfig_Defaults(t *testing.T) {
	got := PostgresConfig{MaxOpenConns: 4, MaxIdleConns: 10}.withDefaults()
	require.Equal(t, 4, got.MaxOpenConns)
	require.Equal(t, 4, got.MaxIdleConns, "idle conns are capped at open conns")
	require.Equal(t, 5*time.Second, got.PingTimeout)
	require.Equal(t, 30*time.Minute, got.ConnMaxLifetime)

	got = PostgresConfig{}.withDefaults()
	require.Equal(t, 8, got.MaxOpenConns)
	require.Equal(t, 8, got.MaxIdleConns)
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), PostgresConfig{})
	require.Error(t, err)
}

func TestApplySchema_NoStatements(t *testing.T) {
	require.NoError(t, ApplySchema(context.Background(), nil))
}
