package database

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Direction selects which way Migrate runs.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrate applies (or with Down, reverts by one step) the embedded
// migrations. It opens its own connection because the schema files hold
// several statements each.
func Migrate(dsn string, dir Direction) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "mysql://"+dsn+"&multiStatements=true")
	if err != nil {
		return errors.Wrap(err, "migrate init")
	}
	defer m.Close()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Steps(-1)
	default:
		return errors.Errorf("unknown migration direction %q", dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrapf(err, "migrate %s", dir)
	}

	version, dirty, verr := m.Version()
	entry := log.WithFields(log.Fields{"component": "migrate", "direction": dir, "dirty": dirty})
	if verr == nil {
		entry = entry.WithField("version", version)
	}
	entry.Info("migrations applied")
	return nil
}
