package swapdb

import (
	"errors"
	"fmt"
)

var (
	// ErrDBReversion is returned when detecting an attempt to open a
	// store written by a newer schema version.
	ErrDBReversion = errors.New("swap index cannot revert to prior version")
)

// migration mutates the key/value layout of one schema version into the
// next. Migrations run inside the same transaction that bumps the version
// cell, so a crash mid-migration leaves the previous version intact and the
// store re-runnable.
type migration func(tx WriteTx) error

var (
	// migrations maps each historical schema version to the migration
	// that lifts it one version up. Version 0 is a store without a
	// version cell: either a fresh database or the legacy layout that
	// kept open offers under the legacy prefix.
	migrations = []migration{
		migrateLegacyPrefix,
		migrateOfferSchemaV2,
	}

	// latestVersion is the schema version this code reads and writes.
	latestVersion = uint8(len(migrations))
)

// dbVersion reads the schema version cell. A missing cell reads as 0.
func dbVersion(tx ReadTx) uint8 {
	value := tx.Get(VersionKey())
	if len(value) == 0 {
		return 0
	}
	return value[0]
}

// putDBVersion updates the schema version cell.
func putDBVersion(tx WriteTx, version uint8) error {
	return tx.Put(VersionKey(), []byte{version})
}

// SyncVersions brings the store up to the current schema version. All
// pending migrations and the version bump commit in a single atomic
// transaction. A fresh store is stamped with the current version without
// running any migration.
func SyncVersions(store Store) error {
	return store.Update(func(tx WriteTx) error {
		currentVersion := dbVersion(tx)

		switch {
		// If the store reports a higher version than we are aware
		// of, the user is probably trying to run an older binary
		// against a newer index. We fail here to prevent unintended
		// corruption.
		case currentVersion > latestVersion:
			log.Errorf("Refusing to revert swap index from "+
				"db_version=%d to lower version=%d",
				currentVersion, latestVersion)

			return ErrDBReversion

		case currentVersion == latestVersion:
			return nil
		}

		// A store without a version cell that holds no index data at
		// all is simply new; there is nothing to migrate.
		if currentVersion == 0 && storeEmpty(tx) {
			log.Infof("Initializing new swap index with "+
				"version %d", latestVersion)

			return putDBVersion(tx, latestVersion)
		}

		log.Infof("Migrating swap index schema: db_version=%d, "+
			"latest_version=%d", currentVersion, latestVersion)

		for version := currentVersion; version < latestVersion; version++ {
			log.Infof("Applying swap index migration #%d",
				version+1)

			if err := migrations[version](tx); err != nil {
				return fmt.Errorf("swap index migration "+
					"#%d: %w", version+1, err)
			}
		}

		return putDBVersion(tx, latestVersion)
	})
}

// storeEmpty reports whether the store holds no index entries under any of
// the data prefixes.
func storeEmpty(tx ReadTx) bool {
	empty := true
	prefixes := []Prefix{
		PrefixOpen, PrefixHistory, PrefixOpenWant, PrefixHistoryWant,
		PrefixLegacy,
	}
	for _, p := range prefixes {
		err := tx.ForEachFrom(TypeSeekKey(p), func(key, _ []byte) error {
			if len(key) > 0 && key[0] == byte(p) {
				empty = false
			}
			return ErrStopIteration
		})
		if err != nil || !empty {
			return false
		}
	}
	return empty
}

// migrationError wraps a failure to bring the store up to the current
// schema version. Init refuses to start when it is returned.
type migrationError struct {
	Err error
}

func (e *migrationError) Error() string {
	return fmt.Sprintf("swap index migration error: %v", e.Err)
}

func (e *migrationError) Unwrap() error {
	return e.Err
}

func (e *migrationError) Is(target error) bool {
	_, ok := target.(*migrationError)
	return ok
}

// NewMigrationError returns an error wrapping err that matches other
// migration errors under errors.Is.
func NewMigrationError(err error) error {
	return &migrationError{Err: err}
}
