// SPDX-License-Identifier: Apache-2.0

// Package migrationplan computes the ordered sequence of migration ways
// that carries a host from its currently installed revision to a cluster's
// target revision, by breadth-first search over the declared migration
// graph.
package migrationplan

import (
	"errors"

	"github.com/pgmakeschemas/pgms/pkg/model"
)

// ErrNoMigrationWay is returned by Plan when no path connects the current
// revision to the target. Callers treat this as fatal for an actual
// upgrade and informational for revision inspection.
var ErrNoMigrationWay = errors.New("no migration way")

// AmbiguousMigration is returned when two or more distinct shortest paths
// from the target revision down to the current one exist.
type AmbiguousMigration struct {
	Target  string
	Current string
}

func (e AmbiguousMigration) Error() string {
	return "ambiguous migration path from " + e.Current + " to " + e.Target
}

// Way is one step of a migration plan: the revision it upgrades to and the
// prior revision it declares itself compatible with.
type Way struct {
	Revision   string
	Compatible string
}

// Plan returns the ordered list of Ways that upgrades a host from current
// to target, using the migrations declared in migrations. An empty, nil
// error result means current already equals target. ErrNoMigrationWay is
// returned when no path exists.
func Plan(migrations *model.MigrationsDescr, current, target string) ([]Way, error) {
	if current == target {
		return nil, nil
	}

	byRevision := make(map[string][]*model.MigrationDescr)
	if migrations != nil {
		for _, m := range migrations.MigrationList {
			byRevision[m.Revision] = append(byRevision[m.Revision], m)
		}
	}

	type path []Way

	frontier := make([]path, 0)
	for _, m := range byRevision[target] {
		for _, c := range m.CompatibleList {
			frontier = append(frontier, path{{Revision: target, Compatible: c}})
		}
	}

	maxLevels := 1
	if migrations != nil {
		maxLevels = len(migrations.MigrationList) + 1
	}
	for level := 0; level < maxLevels && len(frontier) > 0; level++ {
		var matches []path
		for _, p := range frontier {
			if p[len(p)-1].Compatible == current {
				matches = append(matches, p)
			}
		}
		if len(matches) == 1 {
			return []Way(matches[0]), nil
		}
		if len(matches) > 1 {
			return nil, AmbiguousMigration{Target: target, Current: current}
		}

		var next []path
		for _, p := range frontier {
			bottom := p[len(p)-1].Compatible
			for _, m := range byRevision[bottom] {
				for _, c := range m.CompatibleList {
					extended := make(path, len(p)+1)
					copy(extended, p)
					extended[len(p)] = Way{Revision: bottom, Compatible: c}
					next = append(next, extended)
				}
			}
		}
		frontier = next
	}

	return nil, ErrNoMigrationWay
}
