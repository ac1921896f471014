// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives the per-host phase sequences for the init,
// install, and upgrade commands, emitting SQL through a single
// pkg/receivers.Receivers sink per run. Hosts are iterated sequentially;
// a host's failure aborts only that host's transaction.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/oapi-codegen/nullable"

	"github.com/pgmakeschemas/pgms/pkg/aclsql"
	"github.com/pgmakeschemas/pgms/pkg/migrationplan"
	"github.com/pgmakeschemas/pgms/pkg/model"
	"github.com/pgmakeschemas/pgms/pkg/receivers"
	"github.com/pgmakeschemas/pgms/pkg/revisionsql"
	"github.com/pgmakeschemas/pgms/pkg/screnv"
)

// Options carries the CLI flags that shape a run, shared across the
// init/install/upgrade commands (unused fields are simply ignored by
// commands they don't apply to).
type Options struct {
	Execute      bool
	Pretend      bool
	OutputPrefix string

	Init          bool
	Reinstall     bool
	ReinstallFunc bool
	Cascade       bool

	Comment *string

	ShowRev   bool
	ChangeRev bool
	Rev       string

	Verbose int
}

func (o Options) validateInstall() error {
	if o.Reinstall && !o.ReinstallFunc && !o.Cascade {
		return ConfigError{Reason: "--reinstall requires --reinstall-func or --cascade"}
	}
	return nil
}

// HostResult is one host's outcome from a Run* call.
type HostResult struct {
	Host string
	Err  error
}

// Orchestrator drives phase sequences against a loaded cluster and host
// list, through connections the Connect func opens.
type Orchestrator struct {
	Cluster *model.ClusterDescr
	Hosts   model.HostsDescr
	Connect receivers.Connector
	Logger  Logger
	Options Options
}

// New returns an Orchestrator. A nil logger is replaced with a no-op one.
func New(cluster *model.ClusterDescr, hosts model.HostsDescr, connect receivers.Connector, logger Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Orchestrator{Cluster: cluster, Hosts: hosts, Connect: connect, Logger: logger, Options: opts}
}

type hostFunc func(ctx context.Context, r *receivers.Receivers, host model.Host) error

func (o *Orchestrator) run(ctx context.Context, fn hostFunc) []HostResult {
	r := receivers.New(o.Connect, o.Options.Execute, o.Options.Pretend, o.Options.OutputPrefix)
	results := make([]HostResult, 0, len(o.Hosts.Hosts))

	for _, host := range o.Hosts.Hosts {
		o.Logger.LogHostStart(host.Name)
		err := fn(ctx, r, host)

		if err != nil {
			o.Logger.LogHostFailed(host.Name, err)
			r.AbortHost(host.Name) //nolint:errcheck // best-effort cleanup after a host failure already reported
		} else if finishErr := r.FinishHost(host.Name); finishErr != nil {
			err = finishErr
			o.Logger.LogHostFailed(host.Name, err)
		} else {
			o.Logger.LogHostComplete(host.Name)
		}

		results = append(results, HostResult{Host: host.Name, Err: err})
	}

	r.Close() //nolint:errcheck // any remaining state belongs to hosts already reported above
	return results
}

func (o *Orchestrator) execRaw(ctx context.Context, r *receivers.Receivers, host model.Host, phase, sql string) error {
	o.Logger.LogPhase(host.Name, phase)
	frag := model.NewInlineFragmentSeq(sql).Fragments()[0]
	o.Logger.LogFragment(host.Name, r.LookFragmentI(host.Name), frag.Meta)
	return r.Execute(ctx, host.Name, frag)
}

func (o *Orchestrator) execPlainFragments(ctx context.Context, r *receivers.Receivers, host model.Host, phase string, seq model.FragmentSeq) error {
	if seq.IsEmpty() {
		return nil
	}
	o.Logger.LogPhase(host.Name, phase)
	for _, frag := range seq.Fragments() {
		o.Logger.LogFragment(host.Name, r.LookFragmentI(host.Name), frag.Meta)
		if err := r.Execute(ctx, host.Name, frag); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) execSchema(ctx context.Context, r *receivers.Receivers, host model.Host, schema *model.SchemaDescr) error {
	if err := o.execRaw(ctx, r, host, "create_schema:"+schema.SchemaName, aclsql.CreateSchema(schema.SchemaName, schema.Owner, schema.GrantList)); err != nil {
		return err
	}

	o.Logger.LogPhase(host.Name, "schema_sql:"+schema.SchemaName)
	for _, frag := range schema.Fragments.Fragments() {
		sqlText, err := frag.SQL()
		if err != nil {
			return fmt.Errorf("%s: reading fragment: %w", schema.SchemaName, err)
		}
		wrapped, _ := aclsql.ApplyPgRolePath(sqlText, schema.Owner, schema.SchemaName)

		o.Logger.LogFragment(host.Name, r.LookFragmentI(host.Name), frag.Meta)
		if err := r.Execute(ctx, host.Name, frag.WithText(wrapped)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) guardACLsForSchemas(ctx context.Context, r *receivers.Receivers, host model.Host, schemas []*model.SchemaDescr) error {
	for _, schema := range schemas {
		if err := o.execRaw(ctx, r, host, "guard_acls:"+schema.SchemaName, aclsql.GuardACLs(schema.SchemaName, schema.Owner, schema.GrantList, false)); err != nil {
			return err
		}
	}
	return nil
}

func findSchemas(cluster *model.ClusterDescr, hostType string) *model.SchemasDescr {
	for _, sd := range cluster.SchemasList {
		if sd.SchemasType == hostType {
			return sd
		}
	}
	return nil
}

func findMigration(migrations *model.MigrationsDescr, revision, compatible string) *model.MigrationDescr {
	if migrations == nil {
		return nil
	}
	for _, m := range migrations.MigrationList {
		if m.Revision != revision {
			continue
		}
		for _, c := range m.CompatibleList {
			if c == compatible {
				return m
			}
		}
	}
	return nil
}

func schemaNames(schemas []*model.SchemaDescr) []string {
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.SchemaName
	}
	return names
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RunInit runs the init command per host: role-path reset, scr-env and
// ensure-revision-structs, then the init SQL, then scr-env cleanup. No
// revision is guarded or pushed.
func (o *Orchestrator) RunInit(ctx context.Context) []HostResult {
	return o.run(ctx, o.initHost)
}

func (o *Orchestrator) initHost(ctx context.Context, r *receivers.Receivers, host model.Host) error {
	sd := findSchemas(o.Cluster, host.Type)
	if sd == nil {
		return ConfigError{Reason: fmt.Sprintf("no schemas declared for host type %q", host.Type)}
	}
	if err := r.BeginHost(ctx, host); err != nil {
		return err
	}

	revGen := revisionsql.NewGenerator(o.Cluster.Application)
	env := screnv.New()

	if err := o.execRaw(ctx, r, host, "role_reset", aclsql.PgRolePath("", "")); err != nil {
		return err
	}
	envSQL, err := env.Create(host, o.Hosts)
	if err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "scr_env", envSQL); err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "ensure_rev_structs", revGen.EnsureRevisionStructs(host.Type)); err != nil {
		return err
	}

	if sd.Init != nil {
		if err := o.execPlainFragments(ctx, r, host, "init", sd.Init.Fragments); err != nil {
			return err
		}
	}

	return o.execRaw(ctx, r, host, "clean_scr_env", env.Drop())
}

// RunInstall runs the install command's full phase sequence per host.
func (o *Orchestrator) RunInstall(ctx context.Context) []HostResult {
	if err := o.Options.validateInstall(); err != nil {
		return []HostResult{{Err: err}}
	}
	return o.run(ctx, o.installHost)
}

func (o *Orchestrator) installHost(ctx context.Context, r *receivers.Receivers, host model.Host) error {
	sd := findSchemas(o.Cluster, host.Type)
	if sd == nil {
		return ConfigError{Reason: fmt.Sprintf("no schemas declared for host type %q", host.Type)}
	}

	revision, err := o.Cluster.Revision.Get()
	if err != nil {
		return ConfigError{Reason: "install requires a cluster with a specified revision"}
	}

	if err := r.BeginHost(ctx, host); err != nil {
		return err
	}

	revGen := revisionsql.NewGenerator(o.Cluster.Application)
	env := screnv.New()

	if err := o.execRaw(ctx, r, host, "role_reset", aclsql.PgRolePath("", "")); err != nil {
		return err
	}
	envSQL, err := env.Create(host, o.Hosts)
	if err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "scr_env", envSQL); err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "ensure_rev_structs", revGen.EnsureRevisionStructs(host.Type)); err != nil {
		return err
	}

	dropVar := o.Options.Reinstall && !o.Options.ReinstallFunc
	dropFunc := o.Options.Reinstall || o.Options.ReinstallFunc

	if dropVar {
		if err := o.execRaw(ctx, r, host, "drop_var_schemas", revGen.DropVarSchemas(host.Type, sd.SchemasType, schemaNames(sd.VarSchemas), o.Options.Cascade)); err != nil {
			return err
		}
		if err := o.execRaw(ctx, r, host, "clean_var_revision", revGen.CleanVarRevision(host.Type, sd.SchemasType)); err != nil {
			return err
		}
	}
	if dropFunc {
		if err := o.execRaw(ctx, r, host, "drop_func_schemas", revGen.DropFuncSchemas(host.Type, sd.SchemasType, schemaNames(sd.FuncSchemas), o.Options.Cascade)); err != nil {
			return err
		}
		if err := o.execRaw(ctx, r, host, "clean_func_revision", revGen.CleanFuncRevision(host.Type, sd.SchemasType)); err != nil {
			return err
		}
	}

	varExpected := nullable.Nullable[string]{}
	if o.Options.ReinstallFunc {
		varExpected = nullable.NewNullableWithValue(revision)
	}
	if err := o.execRaw(ctx, r, host, "guard_var_revision", revGen.GuardVarRevision(host.Type, sd.SchemasType, varExpected)); err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "guard_func_revision", revGen.GuardFuncRevision(host.Type, sd.SchemasType, nullable.Nullable[string]{})); err != nil {
		return err
	}

	if o.Options.Init && sd.Init != nil {
		if err := o.execPlainFragments(ctx, r, host, "init", sd.Init.Fragments); err != nil {
			return err
		}
	}

	if !o.Options.ReinstallFunc {
		for _, schema := range sd.VarSchemas {
			if err := o.execSchema(ctx, r, host, schema); err != nil {
				return err
			}
		}
		if sd.Late != nil {
			if err := o.execPlainFragments(ctx, r, host, "late", sd.Late.Fragments); err != nil {
				return err
			}
		}
	}

	for _, settings := range o.Cluster.SettingsList {
		if settings.SettingsType != host.Type {
			continue
		}
		if err := o.execPlainFragments(ctx, r, host, "settings:"+settings.SettingsType, settings.Fragments); err != nil {
			return err
		}
	}

	for _, schema := range sd.FuncSchemas {
		if err := o.execSchema(ctx, r, host, schema); err != nil {
			return err
		}
	}

	if sd.Safeguard != nil {
		if err := o.execPlainFragments(ctx, r, host, "safeguard", sd.Safeguard.Fragments); err != nil {
			return err
		}
	}

	if !o.Options.ReinstallFunc {
		if err := o.guardACLsForSchemas(ctx, r, host, sd.VarSchemas); err != nil {
			return err
		}
	}
	if err := o.guardACLsForSchemas(ctx, r, host, sd.FuncSchemas); err != nil {
		return err
	}

	if !o.Options.ReinstallFunc {
		if err := o.execRaw(ctx, r, host, "push_var_revision", revGen.PushVarRevision(host.Type, sd.SchemasType, revision, o.Options.Comment, schemaNames(sd.VarSchemas))); err != nil {
			return err
		}
	}
	if err := o.execRaw(ctx, r, host, "push_func_revision", revGen.PushFuncRevision(host.Type, sd.SchemasType, revision, o.Options.Comment, schemaNames(sd.FuncSchemas))); err != nil {
		return err
	}

	return o.execRaw(ctx, r, host, "clean_scr_env", env.Drop())
}

// RunUpgrade runs the upgrade command: either --show-rev (read-only),
// --change-rev (bookkeeping rewrite only), or the full migration-path
// phase sequence.
func (o *Orchestrator) RunUpgrade(ctx context.Context) []HostResult {
	if o.Options.ShowRev {
		return o.runShowRev(ctx)
	}
	return o.run(ctx, o.upgradeHost)
}

func (o *Orchestrator) runShowRev(ctx context.Context) []HostResult {
	results := make([]HostResult, 0, len(o.Hosts.Hosts))
	for _, host := range o.Hosts.Hosts {
		sd := findSchemas(o.Cluster, host.Type)
		var err error
		switch {
		case sd == nil:
			err = ConfigError{Reason: fmt.Sprintf("no schemas declared for host type %q", host.Type)}
		case host.ConnInfo == nil:
			err = UnsupportedError{Reason: fmt.Sprintf("%q: --show-rev requires a host with conninfo", host.Name)}
		default:
			err = o.showRevHost(ctx, host, sd)
		}
		if err != nil {
			o.Logger.LogHostFailed(host.Name, err)
		}
		results = append(results, HostResult{Host: host.Name, Err: err})
	}
	return results
}

func (o *Orchestrator) showRevHost(ctx context.Context, host model.Host, sd *model.SchemasDescr) error {
	conn, err := o.Connect(ctx, *host.ConnInfo)
	if err != nil {
		return err
	}
	defer conn.Rollback() //nolint:errcheck // read-only transaction, rollback is cleanup only

	revGen := revisionsql.NewGenerator(o.Cluster.Application)

	varRev, _, err := revGen.FetchVarRevision(ctx, conn, host.Type, sd.SchemasType)
	if err != nil {
		return err
	}
	funcRev, _, err := revGen.FetchFuncRevision(ctx, conn, host.Type, sd.SchemasType)
	if err != nil {
		return err
	}

	o.Logger.Info("revision", "host", host.Name, "var_revision", derefOrEmpty(varRev), "func_revision", derefOrEmpty(funcRev))
	return nil
}

func (o *Orchestrator) upgradeHost(ctx context.Context, r *receivers.Receivers, host model.Host) error {
	sd := findSchemas(o.Cluster, host.Type)
	if sd == nil {
		return ConfigError{Reason: fmt.Sprintf("no schemas declared for host type %q", host.Type)}
	}

	target, err := o.Cluster.Revision.Get()
	if err != nil {
		return ConfigError{Reason: "upgrade requires a cluster with a specified target revision"}
	}

	if err := r.BeginHost(ctx, host); err != nil {
		return err
	}

	revGen := revisionsql.NewGenerator(o.Cluster.Application)

	if o.Options.ChangeRev {
		if o.Options.Rev == "" {
			return UnsupportedError{Reason: "--change-rev requires --rev"}
		}
		if err := o.execRaw(ctx, r, host, "push_var_revision", revGen.PushVarRevision(host.Type, sd.SchemasType, o.Options.Rev, o.Options.Comment, schemaNames(sd.VarSchemas))); err != nil {
			return err
		}
		return o.execRaw(ctx, r, host, "push_func_revision", revGen.PushFuncRevision(host.Type, sd.SchemasType, o.Options.Rev, o.Options.Comment, schemaNames(sd.FuncSchemas)))
	}

	env := screnv.New()
	if err := o.execRaw(ctx, r, host, "role_reset", aclsql.PgRolePath("", "")); err != nil {
		return err
	}
	envSQL, err := env.Create(host, o.Hosts)
	if err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "scr_env", envSQL); err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "ensure_rev_structs", revGen.EnsureRevisionStructs(host.Type)); err != nil {
		return err
	}

	currentRev := o.Options.Rev
	expectedCurrent := nullable.Nullable[string]{}
	if currentRev != "" {
		expectedCurrent = nullable.NewNullableWithValue(currentRev)
	} else {
		conn := r.Conn(host.Name)
		if conn == nil {
			return UnsupportedError{Reason: "upgrade without --rev and without --execute cannot determine the current revision"}
		}
		varRev, _, err := revGen.FetchVarRevision(ctx, conn, host.Type, sd.SchemasType)
		if err != nil {
			return err
		}
		if varRev != nil {
			currentRev = *varRev
			expectedCurrent = nullable.NewNullableWithValue(currentRev)
		}
	}

	plan, err := migrationplan.Plan(o.Cluster.Migrations, currentRev, target)
	if err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "guard_var_revision", revGen.GuardVarRevision(host.Type, sd.SchemasType, expectedCurrent)); err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "guard_func_revision", revGen.GuardFuncRevision(host.Type, sd.SchemasType, expectedCurrent)); err != nil {
		return err
	}

	if o.Options.Init && sd.Init != nil {
		if err := o.execPlainFragments(ctx, r, host, "init", sd.Init.Fragments); err != nil {
			return err
		}
	}

	if err := o.execRaw(ctx, r, host, "drop_func_schemas", revGen.DropFuncSchemas(host.Type, sd.SchemasType, schemaNames(sd.FuncSchemas), o.Options.Cascade)); err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "clean_func_revision", revGen.CleanFuncRevision(host.Type, sd.SchemasType)); err != nil {
		return err
	}

	for _, step := range plan {
		mig := findMigration(o.Cluster.Migrations, step.Revision, step.Compatible)
		if mig == nil {
			continue
		}
		up := mig.UpgradeFor(host.Type)
		if up == nil {
			continue
		}
		phase := fmt.Sprintf("migration:%s<-%s", step.Revision, step.Compatible)
		if err := o.execPlainFragments(ctx, r, host, phase, up.Fragments); err != nil {
			return err
		}
	}

	for _, settings := range o.Cluster.SettingsList {
		if settings.SettingsType != host.Type {
			continue
		}
		if err := o.execPlainFragments(ctx, r, host, "settings:"+settings.SettingsType, settings.Fragments); err != nil {
			return err
		}
	}

	for _, schema := range sd.FuncSchemas {
		if err := o.execSchema(ctx, r, host, schema); err != nil {
			return err
		}
	}

	if sd.Safeguard != nil {
		if err := o.execPlainFragments(ctx, r, host, "safeguard", sd.Safeguard.Fragments); err != nil {
			return err
		}
	}

	if err := o.guardACLsForSchemas(ctx, r, host, sd.FuncSchemas); err != nil {
		return err
	}

	if err := o.execRaw(ctx, r, host, "push_var_revision", revGen.PushVarRevision(host.Type, sd.SchemasType, target, o.Options.Comment, schemaNames(sd.VarSchemas))); err != nil {
		return err
	}
	if err := o.execRaw(ctx, r, host, "push_func_revision", revGen.PushFuncRevision(host.Type, sd.SchemasType, target, o.Options.Comment, schemaNames(sd.FuncSchemas))); err != nil {
		return err
	}

	return o.execRaw(ctx, r, host, "clean_scr_env", env.Drop())
}
