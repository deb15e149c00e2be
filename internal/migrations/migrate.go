package migrations

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const migrationsDir = "migrations"

// RunMigrations applies the file-based migrations in ./migrations.
// Databases that predate migrate adoption (users table exists, no
// migrate metadata) get baselined to the newest local version first.
func RunMigrations(databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is empty")
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open DB: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pg.WithInstance(sqlDB, &pg.Config{MigrationsTable: "schema_migrations_migrate"})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	baselineExistingSchema(sqlDB, m)

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	log.Printf("[MIGRATE] Schema up to date")
	return nil
}

// baselineExistingSchema forces the migrate version to the newest local
// migration when the schema already exists but migrate has never
// recorded a version.
func baselineExistingSchema(sqlDB *sql.DB, m *migrate.Migrate) {
	if !tableExists(sqlDB, "users") || tableExists(sqlDB, "schema_migrations_migrate") {
		return
	}

	latest := latestMigrationVersion(migrationsDir)
	if latest == 0 {
		return
	}

	log.Printf("[MIGRATE] Existing schema without migrate metadata, baselining to %d", latest)
	if err := m.Force(int(latest)); err != nil {
		log.Printf("[MIGRATE] Baseline to %d failed: %v", latest, err)
	}
}

func tableExists(sqlDB *sql.DB, name string) bool {
	var exists bool
	row := sqlDB.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", name)
	if err := row.Scan(&exists); err != nil {
		return false
	}
	return exists
}

// latestMigrationVersion returns the highest numeric prefix among the
// migration files (e.g. 000002_ghost_recordings.up.sql -> 2).
func latestMigrationVersion(dir string) int64 {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	re := regexp.MustCompile(`^0*([0-9]+)_`)
	var max int64
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(f.Name())
		if len(m) < 2 {
			continue
		}
		if v, _ := strconv.ParseInt(m[1], 10, 64); v > max {
			max = v
		}
	}
	return max
}
