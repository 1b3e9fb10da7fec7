package postgres

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "ignored"}, "postgres://x"},
		{"defaults", ClientConfig{User: "u", Password: "p", Host: "db", Database: "paper"}, "postgres://u:p@db:5432/paper?sslmode=disable"},
		{"custom port and ssl", ClientConfig{User: "u", Password: "p", Host: "db", Port: 6543, Database: "paper", SSLMode: "require"}, "postgres://u:p@db:6543/paper?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty migration")
	}
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	if _, err := parseDecimal("cash_balance", "NaN"); !errors.Is(err, domain.ErrCorruptState) {
		t.Errorf("err = %v, want ErrCorruptState", err)
	}
	v, err := parseDecimal("cash_balance", "10200.50")
	if err != nil || v.String() != "10200.5" {
		t.Errorf("v = %s err = %v", v, err)
	}
}
