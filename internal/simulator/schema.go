package simulator

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

// SchemaVersion is the scenario document version this build writes.
// Stored scenarios with an older same-major version are migrated
// forward on read; newer versions are rejected.
const SchemaVersion = "1.1.0"

// SupportedSchemaVersions lists the versions this build can read
var SupportedSchemaVersions = []string{"1.0.0", "1.1.0"}

// schemaMigration upgrades a scenario document in place from the keyed
// version to the next
type schemaMigration func(*db.Scenario) error

// schemaMigrations maps source version to its forward migration
var schemaMigrations = map[string]schemaMigration{
	"1.0.0": migrateScenario100To110,
}

// migrateScenario100To110 moves the legacy top-level change descriptor
// list under regulatory_changes.changes, where 1.1.0 validation expects
// it.
func migrateScenario100To110(sc *db.Scenario) error {
	legacy, ok := sc.Metadata["changes"]
	if !ok {
		return nil
	}
	if sc.RegulatoryChanges == nil {
		sc.RegulatoryChanges = make(map[string]interface{})
	}
	if _, exists := sc.RegulatoryChanges["changes"]; !exists {
		sc.RegulatoryChanges["changes"] = legacy
	}
	delete(sc.Metadata, "changes")
	return nil
}

// parseSchemaVersion tolerates short version strings like "1.0"
func parseSchemaVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err == nil {
		return v, nil
	}
	v, err = semver.NewVersion(version + ".0")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schema version %q", ErrValidation, version)
	}
	return v, nil
}

// CheckSchemaCompatibility reports whether a stored scenario version can
// be read by this build. Newer-than-supported and cross-major versions
// are rejected.
func CheckSchemaCompatibility(version string) error {
	if version == "" {
		return fmt.Errorf("%w: missing schema version", ErrValidation)
	}

	current, err := parseSchemaVersion(version)
	if err != nil {
		return err
	}
	target := semver.MustParse(SchemaVersion)

	if current.GreaterThan(target) {
		return fmt.Errorf("%w: scenario requires schema version %s, but only %s is supported",
			ErrValidation, version, SchemaVersion)
	}
	if current.Major() != target.Major() {
		return fmt.Errorf("%w: no migration path from schema version %s to %s",
			ErrValidation, version, SchemaVersion)
	}
	return nil
}

// MigrateScenario upgrades a scenario document to the current schema
// version, applying the forward migrations in order
func MigrateScenario(sc *db.Scenario) error {
	if sc == nil {
		return fmt.Errorf("%w: scenario is nil", ErrValidation)
	}
	if sc.SchemaVersion == "" {
		sc.SchemaVersion = SchemaVersion
		return nil
	}
	if sc.SchemaVersion == SchemaVersion {
		return nil
	}

	if err := CheckSchemaCompatibility(sc.SchemaVersion); err != nil {
		return err
	}

	current, err := parseSchemaVersion(sc.SchemaVersion)
	if err != nil {
		return err
	}

	// Migrations must run oldest first: each one produces the layout the
	// next one expects.
	versions := make([]*semver.Version, 0, len(schemaMigrations))
	for version := range schemaMigrations {
		migrationVersion, err := semver.NewVersion(version)
		if err != nil {
			continue
		}
		versions = append(versions, migrationVersion)
	}
	sort.Sort(semver.Collection(versions))

	for _, migrationVersion := range versions {
		if current.GreaterThan(migrationVersion) {
			continue
		}
		migrate := schemaMigrations[migrationVersion.Original()]
		if err := migrate(sc); err != nil {
			return fmt.Errorf("schema migration from %s failed: %w", migrationVersion.Original(), err)
		}
	}

	sc.SchemaVersion = SchemaVersion
	return nil
}

// IsSchemaVersionSupported reports whether a version matches a supported
// major.minor
func IsSchemaVersionSupported(version string) bool {
	v, err := parseSchemaVersion(version)
	if err != nil {
		return false
	}
	for _, supported := range SupportedSchemaVersions {
		sv, err := semver.NewVersion(supported)
		if err != nil {
			continue
		}
		if v.Major() == sv.Major() && v.Minor() == sv.Minor() {
			return true
		}
	}
	return false
}
