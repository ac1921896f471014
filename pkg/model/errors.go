// SPDX-License-Identifier: Apache-2.0

package model

import "fmt"

// ManifestError is raised for any structural problem in a manifest file:
// a YAML parse failure, the wrong top-level key, an unknown or
// wrongly-typed field, or a schema-validation failure against the
// descriptor's JSON Schema.
type ManifestError struct {
	Path   string
	Reason string
}

func (e ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %s", e.Path, e.Reason)
}

// DuplicateNameError is raised when two sibling descriptors declare the
// same identifying name where the model requires uniqueness (schemas_type
// across a cluster's schemas_list, schema_name across a SchemasDescr's
// combined schema lists, settings_type across settings_list, migration
// way across a MigrationsDescr, upgrade_type across a MigrationDescr, host
// name across a HostsDescr).
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate %s: %q", e.Kind, e.Name)
}

// MultipleChildError is raised when a descriptor that may own at most one
// child of some kind (init/late/safeguard, or a cluster's migrations)
// finds more than one candidate directory.
type MultipleChildError struct {
	Kind string
	Path string
}

func (e MultipleChildError) Error() string {
	return fmt.Sprintf("more than one %s found under %s", e.Kind, e.Path)
}
