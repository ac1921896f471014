// SPDX-License-Identifier: Apache-2.0

package model

import (
	"os"
	"path/filepath"

	"github.com/oapi-codegen/nullable"
	"gopkg.in/yaml.v3"

	"github.com/pgmakeschemas/pgms/pkg/compose"
)

// buildFragmentSeq extracts include/first/last/sql from a descriptor's
// field map and composes its SQL fragment sequence against baseDir.
func buildFragmentSeq(path string, m map[string]*yaml.Node, allowList []string, includeRefMap map[string]string) (FragmentSeq, error) {
	baseDir := filepath.Dir(path)

	include, err := stringSliceField(m, "include")
	if err != nil {
		return FragmentSeq{}, ManifestError{Path: path, Reason: err.Error()}
	}
	first, err := stringSliceField(m, "first")
	if err != nil {
		return FragmentSeq{}, ManifestError{Path: path, Reason: err.Error()}
	}
	last, err := stringSliceField(m, "last")
	if err != nil {
		return FragmentSeq{}, ManifestError{Path: path, Reason: err.Error()}
	}

	firstList, regularList, lastList, err := compose.Compose(baseDir, include, first, last, compose.IsSQLFile, includeRefMap, allowList)
	if err != nil {
		return FragmentSeq{}, err
	}

	var inline *string
	if sql, present, err := stringField(m, "sql"); err != nil {
		return FragmentSeq{}, ManifestError{Path: path, Reason: err.Error()}
	} else if present {
		inline = &sql
	}

	return newFragmentSeq(firstList, regularList, lastList, inline, allowList), nil
}

// LoadCluster loads a cluster.yaml manifest rooted at path and recursively
// loads every schemas.yaml, settings.yaml and migrations.yaml found under
// its search paths.
func LoadCluster(path string, allowList []string, includeRefMap map[string]string) (*ClusterDescr, error) {
	m, err := readManifestValue(path, allowList, "cluster", nil)
	if err != nil {
		return nil, err
	}

	application, _, err := stringField(m, "application")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}

	revisionStr, hasRevision, err := stringField(m, "revision")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}

	var revision nullable.Nullable[string]
	if hasRevision {
		revision = nullable.NewNullableWithValue(revisionStr)
	}

	var typePtr *string
	if typ, present, err := stringField(m, "type"); err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	} else if present {
		typePtr = &typ
	}

	compatibleList, err := stringSliceField(m, "compatible")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}
	if !hasRevision && len(compatibleList) == 0 {
		return nil, ManifestError{Path: path, Reason: "compatible is required when revision is absent"}
	}

	baseDir := filepath.Dir(path)
	include, first, last, err := pathSelection(path, m)
	if err != nil {
		return nil, err
	}

	cluster := &ClusterDescr{
		Application:    application,
		Revision:       revision,
		Type:           typePtr,
		CompatibleList: compatibleList,
	}

	dirs, err := composeChildDirs(baseDir, include, first, last, []string{"schemas.yaml", "settings.yaml", "migrations.yaml"}, includeRefMap, allowList)
	if err != nil {
		return nil, err
	}

	seenSchemasType := make(map[string]bool)
	seenSettingsType := make(map[string]bool)
	for _, dir := range dirs {
		switch childManifest(dir, "schemas.yaml", "settings.yaml", "migrations.yaml") {
		case "schemas.yaml":
			sd, err := loadSchemas(filepath.Join(dir, "schemas.yaml"), allowList, includeRefMap)
			if err != nil {
				return nil, err
			}
			if seenSchemasType[sd.SchemasType] {
				return nil, DuplicateNameError{Kind: "schemas_type", Name: sd.SchemasType}
			}
			seenSchemasType[sd.SchemasType] = true
			cluster.SchemasList = append(cluster.SchemasList, sd)
		case "settings.yaml":
			settd, err := loadSettings(filepath.Join(dir, "settings.yaml"), allowList, includeRefMap)
			if err != nil {
				return nil, err
			}
			if seenSettingsType[settd.SettingsType] {
				return nil, DuplicateNameError{Kind: "settings_type", Name: settd.SettingsType}
			}
			seenSettingsType[settd.SettingsType] = true
			cluster.SettingsList = append(cluster.SettingsList, settd)
		case "migrations.yaml":
			if cluster.Migrations != nil {
				return nil, MultipleChildError{Kind: "migrations", Path: path}
			}
			cluster.Migrations, err = loadMigrations(filepath.Join(dir, "migrations.yaml"), allowList, includeRefMap)
			if err != nil {
				return nil, err
			}
		}
	}

	return cluster, nil
}

// loadSchemas loads a schemas.yaml manifest and its at-most-one
// init/late/safeguard children plus ordered var/func schema children.
func loadSchemas(path string, allowList []string, includeRefMap map[string]string) (*SchemasDescr, error) {
	m, err := readManifestValue(path, allowList, "schemas", nil)
	if err != nil {
		return nil, err
	}

	schemasType, _, err := stringField(m, "type")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}

	baseDir := filepath.Dir(path)
	include, first, last, err := pathSelection(path, m)
	if err != nil {
		return nil, err
	}

	sd := &SchemasDescr{SchemasType: schemasType}

	dirs, err := composeChildDirs(baseDir, include, first, last, []string{"schema.yaml", "init.yaml", "late.yaml", "safeguard.yaml"}, includeRefMap, allowList)
	if err != nil {
		return nil, err
	}

	seenNames := make(map[string]bool)
	for _, dir := range dirs {
		switch childManifest(dir, "schema.yaml", "init.yaml", "late.yaml", "safeguard.yaml") {
		case "schema.yaml":
			scd, err := loadSchema(filepath.Join(dir, "schema.yaml"), allowList, includeRefMap)
			if err != nil {
				return nil, err
			}
			if seenNames[scd.SchemaName] {
				return nil, DuplicateNameError{Kind: "schema_name", Name: scd.SchemaName}
			}
			seenNames[scd.SchemaName] = true

			switch scd.SchemaType {
			case SchemaVar:
				sd.VarSchemas = append(sd.VarSchemas, scd)
			case SchemaFunc:
				sd.FuncSchemas = append(sd.FuncSchemas, scd)
			}
		case "init.yaml":
			if sd.Init != nil {
				return nil, MultipleChildError{Kind: "init", Path: path}
			}
			frag, err := loadFragmentOnly(filepath.Join(dir, "init.yaml"), "init", allowList, includeRefMap)
			if err != nil {
				return nil, err
			}
			sd.Init = &InitDescr{Fragments: frag}
		case "late.yaml":
			if sd.Late != nil {
				return nil, MultipleChildError{Kind: "late", Path: path}
			}
			frag, err := loadFragmentOnly(filepath.Join(dir, "late.yaml"), "late", allowList, includeRefMap)
			if err != nil {
				return nil, err
			}
			sd.Late = &LateDescr{Fragments: frag}
		case "safeguard.yaml":
			if sd.Safeguard != nil {
				return nil, MultipleChildError{Kind: "safeguard", Path: path}
			}
			frag, err := loadFragmentOnly(filepath.Join(dir, "safeguard.yaml"), "safeguard", allowList, includeRefMap)
			if err != nil {
				return nil, err
			}
			sd.Safeguard = &SafeguardDescr{Fragments: frag}
		}
	}

	return sd, nil
}

func loadSchema(path string, allowList []string, includeRefMap map[string]string) (*SchemaDescr, error) {
	m, err := readManifestValue(path, allowList, "schema", nil)
	if err != nil {
		return nil, err
	}

	name, _, err := stringField(m, "name")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}
	typ, _, err := stringField(m, "type")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}
	owner, _, err := stringField(m, "owner")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}
	grants, err := stringSliceField(m, "grant")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}

	frag, err := buildFragmentSeq(path, m, allowList, includeRefMap)
	if err != nil {
		return nil, err
	}

	return &SchemaDescr{
		SchemaName: name,
		SchemaType: SchemaKind(typ),
		Owner:      owner,
		GrantList:  grants,
		Fragments:  frag,
	}, nil
}

// loadFragmentOnly loads an init/late/safeguard manifest, all of which
// share the fragment-only shape.
func loadFragmentOnly(path, tag string, allowList []string, includeRefMap map[string]string) (FragmentSeq, error) {
	m, err := readManifestValue(path, allowList, tag, nil)
	if err != nil {
		return FragmentSeq{}, err
	}
	return buildFragmentSeq(path, m, allowList, includeRefMap)
}

func loadSettings(path string, allowList []string, includeRefMap map[string]string) (*SettingsDescr, error) {
	m, err := readManifestValue(path, allowList, "settings", nil)
	if err != nil {
		return nil, err
	}

	settingsType, _, err := stringField(m, "type")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}

	frag, err := buildFragmentSeq(path, m, allowList, includeRefMap)
	if err != nil {
		return nil, err
	}

	return &SettingsDescr{SettingsType: settingsType, Fragments: frag}, nil
}

func loadMigrations(path string, allowList []string, includeRefMap map[string]string) (*MigrationsDescr, error) {
	m, err := readManifestValue(path, allowList, "migrations", nil)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	include, first, last, err := pathSelection(path, m)
	if err != nil {
		return nil, err
	}

	dirs, err := composeChildDirs(baseDir, include, first, last, []string{"migration.yaml"}, includeRefMap, allowList)
	if err != nil {
		return nil, err
	}

	md := &MigrationsDescr{}
	type way struct{ revision, compatible string }
	seen := make(map[way]bool)

	for _, dir := range dirs {
		mig, err := loadMigration(filepath.Join(dir, "migration.yaml"), allowList, includeRefMap)
		if err != nil {
			return nil, err
		}
		for _, c := range mig.CompatibleList {
			w := way{mig.Revision, c}
			if seen[w] {
				return nil, DuplicateNameError{Kind: "migration way", Name: mig.Revision + "<-" + c}
			}
			seen[w] = true
		}
		md.MigrationList = append(md.MigrationList, mig)
	}

	return md, nil
}

// loadMigration loads a migration.yaml manifest. Per the accepted dual
// form: when the manifest declares "type", it is an inline migration and
// its own sql/include/first/last synthesize a single UpgradeDescr for
// that host type; otherwise upgrade.yaml children are discovered under
// its search paths and loaded individually.
func loadMigration(path string, allowList []string, includeRefMap map[string]string) (*MigrationDescr, error) {
	m, err := readManifestValue(path, allowList, "migration", nil)
	if err != nil {
		return nil, err
	}

	revision, _, err := stringField(m, "revision")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}
	compatibleList, err := stringSliceField(m, "compatible")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}

	mig := &MigrationDescr{Revision: revision, CompatibleList: compatibleList}

	if upgradeType, present, err := stringField(m, "type"); err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	} else if present {
		frag, err := buildFragmentSeq(path, m, allowList, includeRefMap)
		if err != nil {
			return nil, err
		}
		mig.UpgradeList = append(mig.UpgradeList, &UpgradeDescr{UpgradeType: upgradeType, Fragments: frag})
		return mig, nil
	}

	baseDir := filepath.Dir(path)
	include, first, last, err := pathSelection(path, m)
	if err != nil {
		return nil, err
	}

	dirs, err := composeChildDirs(baseDir, include, first, last, []string{"upgrade.yaml"}, includeRefMap, allowList)
	if err != nil {
		return nil, err
	}

	seenTypes := make(map[string]bool)
	for _, dir := range dirs {
		up, err := loadUpgrade(filepath.Join(dir, "upgrade.yaml"), allowList, includeRefMap)
		if err != nil {
			return nil, err
		}
		if seenTypes[up.UpgradeType] {
			return nil, DuplicateNameError{Kind: "upgrade_type", Name: up.UpgradeType}
		}
		seenTypes[up.UpgradeType] = true
		mig.UpgradeList = append(mig.UpgradeList, up)
	}

	return mig, nil
}

func loadUpgrade(path string, allowList []string, includeRefMap map[string]string) (*UpgradeDescr, error) {
	m, err := readManifestValue(path, allowList, "upgrade", nil)
	if err != nil {
		return nil, err
	}

	upgradeType, _, err := stringField(m, "type")
	if err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}

	frag, err := buildFragmentSeq(path, m, allowList, includeRefMap)
	if err != nil {
		return nil, err
	}

	return &UpgradeDescr{UpgradeType: upgradeType, Fragments: frag}, nil
}

// pathSelection extracts the common include/first/last directives shared
// by every descriptor's manifest value.
func pathSelection(path string, m map[string]*yaml.Node) (include, first, last []string, err error) {
	include, err = stringSliceField(m, "include")
	if err != nil {
		return nil, nil, nil, ManifestError{Path: path, Reason: err.Error()}
	}
	first, err = stringSliceField(m, "first")
	if err != nil {
		return nil, nil, nil, ManifestError{Path: path, Reason: err.Error()}
	}
	last, err = stringSliceField(m, "last")
	if err != nil {
		return nil, nil, nil, ManifestError{Path: path, Reason: err.Error()}
	}
	return include, first, last, nil
}

// composeChildDirs finds immediate subdirectories of the search paths
// derived from (baseDir, include) that contain any of manifestFiles,
// reordered by first/last, and returns them as a single ordered slice of
// directories.
func composeChildDirs(baseDir string, include, first, last []string, manifestFiles []string, includeRefMap map[string]string, allowList []string) ([]string, error) {
	firstList, regularList, lastList, err := compose.ComposeDirs(baseDir, include, first, last, manifestFiles, includeRefMap, allowList)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(firstList)+len(regularList)+len(lastList))
	for _, rf := range firstList {
		out = append(out, rf.Path)
	}
	for _, rf := range regularList {
		out = append(out, rf.Path)
	}
	for _, rf := range lastList {
		out = append(out, rf.Path)
	}
	return out, nil
}

// childManifest reports which of names a child directory carries, in the
// given priority order, matching the order scanSubdirs classified it by.
func childManifest(dir string, names ...string) string {
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return name
		}
	}
	return ""
}
