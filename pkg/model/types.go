// SPDX-License-Identifier: Apache-2.0

// Package model holds the typed, immutable-after-load in-memory
// representation of a source tree (cluster, schemas, schema, migrations)
// and of the hosts a deployment targets, together with the recursive
// manifest loader that materializes it from YAML and SQL fragment files.
package model

import "github.com/oapi-codegen/nullable"

// Host is one deployment target: a name, a type selecting which
// SchemasDescr applies, an optional connection string, and an opaque
// parameter bag exposed to SQL scripts via the scr-env functions.
type Host struct {
	Name     string
	Type     string
	ConnInfo *string
	Params   map[string]any
}

// HostsDescr is an ordered sequence of hosts with unique names, plus an
// optional opaque "shared" blob also exposed to SQL scripts.
type HostsDescr struct {
	Hosts  []Host
	Shared any
}

// PseudoHosts builds a HostsDescr with one empty-conninfo host per
// schemas_type declared on cluster, for dry-run SQL emission when no real
// hosts file is given (the "-" positional argument).
func PseudoHosts(cluster *ClusterDescr) HostsDescr {
	hosts := make([]Host, 0, len(cluster.SchemasList))
	for _, sd := range cluster.SchemasList {
		hosts = append(hosts, Host{Name: sd.SchemasType, Type: sd.SchemasType})
	}
	return HostsDescr{Hosts: hosts}
}

// ClusterDescr is the root of a source tree, identified by application
// name. Revision is unspecified in "settings mode" trees (loaded from a
// settings_source_code path), in which case CompatibleList is required and
// checked against the target cluster's application and revision before
// the tree's settings are used.
type ClusterDescr struct {
	Application    string
	Revision       nullable.Nullable[string]
	Type           *string
	CompatibleList []string
	SchemasList    []*SchemasDescr
	SettingsList   []*SettingsDescr
	Migrations     *MigrationsDescr
}

// CheckSettingsCompatibility verifies that a settings-mode ClusterDescr
// (one with no specified Revision) is compatible with the main cluster's
// application and target revision. It is a no-op, always succeeding, when
// called on a non-settings-mode descriptor.
func (c *ClusterDescr) CheckSettingsCompatibility(mainApplication, targetRevision string) error {
	if c.Revision.IsSpecified() {
		return nil
	}
	if c.Application != mainApplication {
		return ManifestError{Reason: "settings cluster application " + c.Application + " does not match " + mainApplication}
	}
	for _, rev := range c.CompatibleList {
		if rev == targetRevision {
			return nil
		}
	}
	return ManifestError{Reason: "settings cluster is not compatible with revision " + targetRevision}
}

// SchemaKind distinguishes variable from functional schemas.
type SchemaKind string

const (
	SchemaVar  SchemaKind = "var"
	SchemaFunc SchemaKind = "func"
)

// SchemasDescr is identified by schemas_type and owns at most one of
// init/late/safeguard plus ordered variable and functional schema lists
// with schema names unique across both.
type SchemasDescr struct {
	SchemasType string
	Init        *InitDescr
	Late        *LateDescr
	Safeguard   *SafeguardDescr
	VarSchemas  []*SchemaDescr
	FuncSchemas []*SchemaDescr
}

// SchemaDescr is a single named schema: its owner, grantees, and ordered
// SQL fragment sequence.
type SchemaDescr struct {
	SchemaName string
	SchemaType SchemaKind
	Owner      string
	GrantList  []string
	Fragments  FragmentSeq
}

// InitDescr, LateDescr and SafeguardDescr share SchemaDescr's fragment
// sequence without a name, owner, or grant list.
type InitDescr struct{ Fragments FragmentSeq }
type LateDescr struct{ Fragments FragmentSeq }
type SafeguardDescr struct{ Fragments FragmentSeq }

// SettingsDescr carries a settings_type and the same fragment sequence
// shape, used both as a ClusterDescr's direct nested child and as the
// top-level content of an external settings-mode source tree.
type SettingsDescr struct {
	SettingsType string
	Fragments    FragmentSeq
}

// UpgradeDescr carries an upgrade_type equal to a host type and the SQL to
// run against hosts of that type for one migration way.
type UpgradeDescr struct {
	UpgradeType string
	Fragments   FragmentSeq
}

// MigrationDescr is one declared migration: the revision it upgrades to,
// the prior revisions it is compatible with, and per-host-type upgrade
// SQL. At most one UpgradeDescr per upgrade_type.
type MigrationDescr struct {
	Revision       string
	CompatibleList []string
	UpgradeList    []*UpgradeDescr
}

// UpgradeFor returns the UpgradeDescr declared for hostType, or nil.
func (m *MigrationDescr) UpgradeFor(hostType string) *UpgradeDescr {
	for _, u := range m.UpgradeList {
		if u.UpgradeType == hostType {
			return u
		}
	}
	return nil
}

// MigrationsDescr owns the declared migration graph, with migration ways
// (revision, compatible_revision) unique across MigrationList.
type MigrationsDescr struct {
	MigrationList []*MigrationDescr
}
