package main

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", name))
	require.NoError(t, err)
	return strings.Join(strings.Fields(string(raw)), " ")
}

func TestInitMigration_LicenseIndexes(t *testing.T) {
	up := readMigration(t, "000001_init.up.sql")

	for _, want := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_tuple ON licenses (product_id, machine_id, adapter_id)",
		"CREATE INDEX IF NOT EXISTS idx_licenses_machine_adapter ON licenses (machine_id, adapter_id)",
		"CREATE INDEX IF NOT EXISTS idx_licenses_expires ON licenses (expires_at)",
		"license_key VARCHAR(36) NOT NULL UNIQUE",
		"event_id UUID NOT NULL UNIQUE",
	} {
		assert.Contains(t, up, want)
	}
}

func TestInitMigration_DownDropsEverything(t *testing.T) {
	up := readMigration(t, "000001_init.up.sql")
	down := readMigration(t, "000001_init.down.sql")

	tables := regexp.MustCompile(`CREATE TABLE IF NOT EXISTS (\w+)`).FindAllStringSubmatch(up, -1)
	require.NotEmpty(t, tables)
	for _, m := range tables {
		assert.Contains(t, down, "DROP TABLE IF EXISTS "+m[1]+";")
	}
	for _, idx := range []string{"idx_licenses_machine_adapter", "idx_licenses_expires"} {
		assert.Contains(t, down, "DROP INDEX IF EXISTS "+idx+";")
	}
}
