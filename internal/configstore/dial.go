package configstore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/glebarez/sqlite"
)

// Driver selects which gorm dialector Open builds.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

// Open opens a gorm.DB for driver against dsn. sqlite is the default
// for local/dev/test use (pure Go, via glebarez/sqlite's modernc.org/sqlite
// backing — no cgo); mysql and postgres are wired for parity with the
// teacher's multi-driver database layer.
func Open(driver Driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		if dsn == "" {
			dsn = "file:llmdispatch.db?mode=rwc&_foreign_keys=on"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("configstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("configstore: open %s: %w", driver, err)
	}
	return db, nil
}
