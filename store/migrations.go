package store

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

const migrationTable = "firecore_migrations"

// Terminal statuses are excluded from the partial unique indexes that keep one
// active dispatch per report and one active assignment per unit.
func coreSchema(d Dialect) []string {
	pk, ts, fl := d.AutoIncrementPK(), d.TimestampType(), d.FloatType()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stations (
	id %s,
	name TEXT NOT NULL UNIQUE,
	address TEXT NOT NULL DEFAULT '',
	latitude %s NOT NULL DEFAULT 0,
	longitude %s NOT NULL DEFAULT 0,
	created_at %s NOT NULL
)`, pk, fl, fl, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reports (
	id %s,
	report_number TEXT NOT NULL UNIQUE,
	reporter_name TEXT NOT NULL DEFAULT '',
	reporter_phone TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	latitude %s NOT NULL DEFAULT 0,
	longitude %s NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	emergency_type TEXT NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	received_at %s NOT NULL,
	dispatched_at %s,
	en_route_at %s,
	arrived_at %s,
	completed_at %s,
	cancelled_at %s,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, pk, fl, fl, ts, ts, ts, ts, ts, ts, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dispatches (
	id %s,
	dispatch_number TEXT NOT NULL UNIQUE,
	report_id BIGINT NOT NULL REFERENCES reports(id),
	dispatch_type TEXT NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	notes TEXT NOT NULL DEFAULT '',
	dispatched_at %s NOT NULL,
	en_route_at %s,
	arrived_at %s,
	completed_at %s,
	cancelled_at %s,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, pk, ts, ts, ts, ts, ts, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_dispatches_status ON dispatches(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_dispatches_active_report ON dispatches(report_id) WHERE status NOT IN ('COMPLETED', 'CANCELLED')`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS units (
	id %s,
	unit_number TEXT NOT NULL UNIQUE,
	unit_type TEXT NOT NULL,
	station_id BIGINT REFERENCES stations(id),
	status TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	latitude %s NOT NULL DEFAULT 0,
	longitude %s NOT NULL DEFAULT 0,
	dispatch_id BIGINT REFERENCES dispatches(id),
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, pk, fl, fl, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_units_type_status ON units(unit_type, status)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS unit_assignments (
	id %s,
	dispatch_id BIGINT NOT NULL REFERENCES dispatches(id),
	unit_id BIGINT NOT NULL REFERENCES units(id),
	status TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	dispatched_at %s NOT NULL,
	en_route_at %s,
	arrived_at %s,
	completed_at %s,
	cancelled_at %s,
	estimated_arrival %s NOT NULL,
	actual_arrival %s,
	response_minutes INTEGER,
	travel_minutes INTEGER,
	travel_distance_km %s,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, pk, ts, ts, ts, ts, ts, ts, ts, fl, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_assignments_dispatch ON unit_assignments(dispatch_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_active_unit ON unit_assignments(unit_id) WHERE status IN ('DISPATCHED', 'EN_ROUTE', 'ON_SCENE')`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS escalations (
	id %s,
	dispatch_id BIGINT NOT NULL UNIQUE REFERENCES dispatches(id),
	support_type TEXT NOT NULL,
	priority TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	requested_at %s NOT NULL,
	approved_at %s,
	dispatched_at %s,
	arrived_at %s,
	completed_at %s,
	cancelled_at %s,
	estimated_cost %s,
	actual_cost %s,
	actual_minutes INTEGER,
	summary TEXT NOT NULL DEFAULT '',
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, pk, ts, ts, ts, ts, ts, ts, fl, fl, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS transitions (
	id %s,
	transition_id TEXT NOT NULL UNIQUE,
	entity_kind TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL,
	version INTEGER NOT NULL,
	occurred_at %s NOT NULL
)`, pk, ts),
		`CREATE INDEX IF NOT EXISTS idx_transitions_entity ON transitions(entity_kind, entity_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS outbox (
	id %s,
	topic TEXT NOT NULL,
	msg_key TEXT NOT NULL DEFAULT '',
	msg_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	retries INTEGER NOT NULL DEFAULT 0,
	created_at %s NOT NULL,
	sent_at %s
)`, pk, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_log (
	id %s,
	entity_type TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	action TEXT NOT NULL,
	old_value TEXT NOT NULL DEFAULT '',
	new_value TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	created_at %s NOT NULL
)`, pk, ts),
		`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id)`,
	}
}

func migrations(d Dialect) migrate.MigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_core",
				Up: coreSchema(d),
				Down: []string{
					`DROP TABLE IF EXISTS audit_log`,
					`DROP TABLE IF EXISTS outbox`,
					`DROP TABLE IF EXISTS transitions`,
					`DROP TABLE IF EXISTS escalations`,
					`DROP TABLE IF EXISTS unit_assignments`,
					`DROP TABLE IF EXISTS units`,
					`DROP TABLE IF EXISTS dispatches`,
					`DROP TABLE IF EXISTS reports`,
					`DROP TABLE IF EXISTS stations`,
				},
			},
		},
	}
}

func (db *DB) migrate() error {
	migrate.SetTable(migrationTable)
	if _, err := migrate.Exec(db.DB, db.dialect.MigrateDialect(), migrations(db.dialect), migrate.Up); err != nil {
		return err
	}
	return nil
}
