package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	seed := flag.Bool("seed", false, "insert demo riders and active trips")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1Extensions(ctx, conn)
	step2BookingTables(ctx, conn)
	step3LocationTable(ctx, conn)
	step4AlertTable(ctx, conn)
	step5Indexes(ctx, conn)
	if *seed {
		step6Seed(ctx, conn)
	}
	step7Verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/simulate_telemetry")
}

// ── Step 1: Extensions ──
func step1Extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ── Step 2: users and trips ──
// The booking service owns these tables; the tracker only reads them.
func step2BookingTables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: users and trips ─────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS users (
			id          TEXT        PRIMARY KEY,
			name        TEXT,
			phone       TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, "users table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trips (
			id          TEXT        PRIMARY KEY,
			user_id     TEXT        NOT NULL REFERENCES users (id),
			vehicle_id  TEXT        NOT NULL,
			start_time  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			end_time    TIMESTAMPTZ,
			status      TEXT        NOT NULL DEFAULT 'active',

			CONSTRAINT chk_trip_status CHECK (status IN ('active', 'completed'))
		);
	`, "trips table created")
}

// ── Step 3: trip_locations hypertable ──
func step3LocationTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: trip_locations table ────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trip_locations (
			-- device clock
			timestamp      TIMESTAMPTZ      NOT NULL,
			-- tracker clock
			received_at    TIMESTAMPTZ      NOT NULL,

			trip_id        TEXT             NOT NULL,
			latitude       DOUBLE PRECISION NOT NULL,
			longitude      DOUBLE PRECISION NOT NULL,
			bearing        DOUBLE PRECISION NOT NULL DEFAULT 0,
			speed          DOUBLE PRECISION NOT NULL DEFAULT 0,
			accuracy       DOUBLE PRECISION NOT NULL DEFAULT 0,
			altitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
			battery_level  DOUBLE PRECISION
		);
	`, "trip_locations table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'trip_locations',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "trip_locations converted to hypertable")
}

// ── Step 4: trip_alerts ──
func step4AlertTable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: trip_alerts table ───────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trip_alerts (
			id               BIGSERIAL    PRIMARY KEY,
			alert_id         TEXT         NOT NULL,
			trip_id          TEXT         NOT NULL,

			-- must match domain.AlertType and domain.AlertSeverity
			alert_type       TEXT         NOT NULL,
			severity         TEXT         NOT NULL,
			transition       TEXT         NOT NULL,
			message          TEXT         NOT NULL DEFAULT '',

			first_raised_at  TIMESTAMPTZ  NOT NULL,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_alert_type CHECK (
				alert_type IN ('OFFLINE', 'LOW_BATTERY', 'STATIONARY')
			),
			CONSTRAINT chk_severity CHECK (
				severity IN ('INFO', 'WARNING', 'CRITICAL')
			),
			CONSTRAINT chk_transition CHECK (
				transition IN ('raised', 'cleared')
			),
			CONSTRAINT uq_alert_transition UNIQUE (alert_id, transition, created_at)
		);
	`, "trip_alerts table created")
}

// ── Step 5: Indexes ──
func step5Indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_trips_active",
			sql: `CREATE INDEX IF NOT EXISTS idx_trips_active
				  ON trips (status) WHERE status = 'active';`,
			why: "query: active trip poll",
		},
		{
			name: "idx_locations_trip_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_locations_trip_time
				  ON trip_locations (trip_id, timestamp DESC);`,
			why: "query: route replay for one trip",
		},
		{
			name: "idx_alerts_trip",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_trip
				  ON trip_alerts (trip_id, created_at DESC);`,
			why: "query: alert history for one trip",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-28s ← %s", idx.name, idx.why),
		)
	}
}

// ── Step 6: Demo data ──
func step6Seed(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Demo riders and trips ───────────────")

	riders := []struct{ id, name, phone, trip, vehicle string }{
		{"user-maria", "Maria Santos", "+63 917 000 0001", "trip-1001", "ebike-07"},
		{"user-jose", "Jose Reyes", "+63 917 000 0002", "trip-1002", "ebike-12"},
		{"user-ana", "Ana Cruz", "+63 917 000 0003", "trip-1003", "scooter-03"},
	}
	for _, r := range riders {
		execOrFatal(ctx, conn, `
			INSERT INTO users (id, name, phone) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING;`,
			"rider "+r.id, r.id, r.name, r.phone)
		execOrFatal(ctx, conn, `
			INSERT INTO trips (id, user_id, vehicle_id, status) VALUES ($1, $2, $3, 'active')
			ON CONFLICT (id) DO UPDATE SET status = 'active', end_time = NULL;`,
			"active trip "+r.trip, r.trip, r.id, r.vehicle)
	}
}

// ── Step 7: Verify ──
func step7Verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 7: Verification ────────────────────────")

	for _, table := range []string{"users", "trips", "trip_locations", "trip_alerts"} {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var active int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM trips WHERE status = 'active'`).Scan(&active); err != nil {
		log.Fatalf("Trip count failed: %v", err)
	}
	fmt.Printf("  ✓ active trips: %d\n", active)
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string, args ...any) {
	_, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
