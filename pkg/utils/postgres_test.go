package utils

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	if got.MaxOpenConns != 5 {
		t.Fatalf("expected explicit value kept, got %d", got.MaxOpenConns)
	}
	if got.MaxIdleConns != 25 || got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", got)
	}
}

func TestPgxDriverRegistered(t *testing.T) {
	found := false
	for _, d := range sql.Drivers() {
		if d == PostgresDriver {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q driver registered, have %v", PostgresDriver, sql.Drivers())
	}
}

func TestOpenPostgres_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	db, err := OpenPostgres(context.Background(), dsn, PostgresPoolConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := HealthCheck(context.Background(), db, time.Second); err != nil {
		t.Fatalf("health: %v", err)
	}
}
