package appointment

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medibook/hospital-appointments/migrations"
)

// migratedColumns parses the embedded up-migrations and returns, per table,
// the set of column names the schema actually creates.
func migratedColumns(t *testing.T) map[string]map[string]bool {
	t.Helper()

	entries, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	tables := make(map[string]map[string]bool)
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		raw, err := migrations.FS.ReadFile(entry.Name())
		require.NoError(t, err)

		var table string
		scanner := bufio.NewScanner(strings.NewReader(string(raw)))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case strings.HasPrefix(line, "CREATE TABLE"):
				fields := strings.Fields(line)
				table = fields[len(fields)-2] // ... EXISTS <name> (
				tables[table] = make(map[string]bool)
			case table == "":
				continue
			case line == ");":
				table = ""
			case line == "" || strings.HasPrefix(line, "--"):
				continue
			default:
				name := strings.Fields(line)[0]
				if name == strings.ToLower(name) {
					tables[table][name] = true
				}
			}
		}
		require.NoError(t, scanner.Err())
	}

	return tables
}

func assertColumnsExist(t *testing.T, tables map[string]map[string]bool, table, columnList string) {
	t.Helper()

	cols, ok := tables[table]
	require.True(t, ok, "table %s not created by migrations", table)
	for _, col := range strings.Split(columnList, ",") {
		col = strings.TrimSpace(col)
		require.True(t, cols[col], "table %s has no column %q", table, col)
	}
}

// Every column a repository query selects, inserts, or updates must exist in
// the migrated schema, otherwise the live path fails with SQLSTATE 42703.
func TestQueriesMatchMigratedSchema(t *testing.T) {
	tables := migratedColumns(t)

	assertColumnsExist(t, tables, "patients", patientColumns)
	assertColumnsExist(t, tables, "doctors", doctorColumns)
	assertColumnsExist(t, tables, "appointments", appointmentColumns)
	assertColumnsExist(t, tables, "doctor_availability",
		"doctor_id, working_days, daily_start, daily_end, slot_duration, breaks, max_per_slot, updated_at")
	assertColumnsExist(t, tables, "invoices",
		"id, appointment_id, patient_id, doctor_id, total_amount, payment_status, order_id, payment_id, created_at, updated_at")
	assertColumnsExist(t, tables, "event_logs",
		"event_type, appointment_id, payload, created_at")
}
