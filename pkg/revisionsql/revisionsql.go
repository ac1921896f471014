// SPDX-License-Identifier: Apache-2.0

// Package revisionsql emits the idempotent control SQL that creates and
// maintains the per-application bookkeeping schema (<app>_revision) the
// orchestrator uses to track which revision is installed for each
// (application, host type, schema kind).
package revisionsql

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/oapi-codegen/nullable"

	"github.com/pgmakeschemas/pgms/pkg/db"
	"github.com/pgmakeschemas/pgms/pkg/pgquote"
)

// Generator emits revision-bookkeeping SQL for one application.
type Generator struct {
	application string
}

// NewGenerator returns a Generator for application, normalized to a valid
// unquoted Postgres identifier fragment.
func NewGenerator(application string) *Generator {
	return &Generator{application: pgquote.NormalizeApplication(application)}
}

// RevisionSchema returns the bookkeeping schema name for this application.
func (g *Generator) RevisionSchema() string {
	return g.application + "_revision"
}

func (g *Generator) table(hostType, kind string) string {
	return pgquote.NormalizeApplication(hostType) + "_" + kind
}

func (g *Generator) qualified(hostType, kind string) string {
	return pgquote.QualifiedIdentifier(g.RevisionSchema(), g.table(hostType, kind))
}

// EnsureRevisionStructs emits CREATE SCHEMA/TABLE IF NOT EXISTS for the
// four bookkeeping objects (var/func current + var/func history) of
// hostType.
func (g *Generator) EnsureRevisionStructs(hostType string) string {
	const tableDDL = `CREATE TABLE IF NOT EXISTS %s (
	application text NOT NULL,
	schemas_type text NOT NULL,
	datetime timestamptz NOT NULL DEFAULT now(),
	revision text NOT NULL,
	comment text,
	schemas text[],
	PRIMARY KEY (application, schemas_type)
);`

	const historyDDL = `CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	application text NOT NULL,
	schemas_type text NOT NULL,
	datetime timestamptz NOT NULL DEFAULT now(),
	revision text NOT NULL,
	comment text,
	schemas text[]
);`

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n\n", pgquote.Identifier(g.RevisionSchema()))
	fmt.Fprintf(&b, tableDDL+"\n\n", g.qualified(hostType, "var_revision"))
	fmt.Fprintf(&b, tableDDL+"\n\n", g.qualified(hostType, "func_revision"))
	fmt.Fprintf(&b, historyDDL+"\n\n", g.qualified(hostType, "var_revision_history"))
	fmt.Fprintf(&b, historyDDL+"\n", g.qualified(hostType, "func_revision_history"))
	return b.String()
}

func (g *Generator) guardRevision(kind, tag, hostType, schemasType string, expected nullable.Nullable[string]) string {
	expectedLiteral := "NULL"
	if v, err := expected.Get(); err == nil {
		expectedLiteral = pq.QuoteLiteral(v)
	}

	body := fmt.Sprintf(`
DECLARE
	current_revision text;
BEGIN
	SELECT revision INTO current_revision FROM %s
		WHERE application = %s AND schemas_type = %s
		FOR UPDATE;
	IF (current_revision IS DISTINCT FROM %s) THEN
		RAISE EXCEPTION 'revision mismatch on %%: expected %%, found %%', %s, %s, current_revision;
	END IF;
END
`, g.qualified(hostType, kind), pq.QuoteLiteral(g.application), pq.QuoteLiteral(schemasType),
		expectedLiteral, pq.QuoteLiteral(schemasType), expectedLiteral)

	return "DO " + pgquote.DollarQuote(tag, body) + ";"
}

// GuardVarRevision emits a DO-block locking the current variable-schema
// revision row and raising if it differs from expected (an unspecified
// expected matches "no row").
func (g *Generator) GuardVarRevision(hostType, schemasType string, expected nullable.Nullable[string]) string {
	return g.guardRevision("var_revision", "guard_var_revision", hostType, schemasType, expected)
}

// GuardFuncRevision is GuardVarRevision for the functional-schema table.
func (g *Generator) GuardFuncRevision(hostType, schemasType string, expected nullable.Nullable[string]) string {
	return g.guardRevision("func_revision", "guard_func_revision", hostType, schemasType, expected)
}

func (g *Generator) cleanRevision(kind, hostType, schemasType string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE application = %s AND schemas_type = %s;",
		g.qualified(hostType, kind), pq.QuoteLiteral(g.application), pq.QuoteLiteral(schemasType))
}

// CleanVarRevision deletes the current variable-schema revision row.
func (g *Generator) CleanVarRevision(hostType, schemasType string) string {
	return g.cleanRevision("var_revision", hostType, schemasType)
}

// CleanFuncRevision deletes the current functional-schema revision row.
func (g *Generator) CleanFuncRevision(hostType, schemasType string) string {
	return g.cleanRevision("func_revision", hostType, schemasType)
}

func (g *Generator) pushRevision(kind, hostType, schemasType, revision string, comment *string, schemas []string) string {
	commentLiteral := "NULL"
	if comment != nil {
		commentLiteral = pq.QuoteLiteral(*comment)
	}
	schemasLiteral := pgArrayLiteral(schemas)

	return fmt.Sprintf(`WITH upsert AS (
	INSERT INTO %[1]s (application, schemas_type, revision, comment, schemas)
		VALUES (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s)
	ON CONFLICT (application, schemas_type) DO UPDATE
		SET datetime = now(), revision = excluded.revision, comment = excluded.comment, schemas = excluded.schemas
	RETURNING application, schemas_type, datetime, revision, comment, schemas
)
INSERT INTO %[7]s (application, schemas_type, datetime, revision, comment, schemas)
	SELECT application, schemas_type, datetime, revision, comment, schemas FROM upsert;`,
		g.qualified(hostType, kind), pq.QuoteLiteral(g.application), pq.QuoteLiteral(schemasType),
		pq.QuoteLiteral(revision), commentLiteral, schemasLiteral, g.qualified(hostType, kind+"_history"))
}

// PushVarRevision inserts or upserts the current variable-schema revision
// row and appends the same tuple to the history table.
func (g *Generator) PushVarRevision(hostType, schemasType, revision string, comment *string, schemas []string) string {
	return g.pushRevision("var_revision", hostType, schemasType, revision, comment, schemas)
}

// PushFuncRevision is PushVarRevision for the functional-schema table.
func (g *Generator) PushFuncRevision(hostType, schemasType, revision string, comment *string, schemas []string) string {
	return g.pushRevision("func_revision", hostType, schemasType, revision, comment, schemas)
}

func (g *Generator) dropSchemas(kind, tag, hostType, schemasType string, schemas []string, cascade bool) string {
	drop := "DROP SCHEMA IF EXISTS"
	suffix := ""
	if cascade {
		suffix = " CASCADE"
	}

	body := fmt.Sprintf(`
DECLARE
	schema_name text;
BEGIN
	FOR schema_name IN
		SELECT s FROM unnest(%s) AS s
		UNION
		SELECT unnest(schemas) FROM %s WHERE application = %s AND schemas_type = %s
	LOOP
		EXECUTE format('%s %%I%s', schema_name);
	END LOOP;
END
`, pgArrayLiteral(schemas), g.qualified(hostType, kind), pq.QuoteLiteral(g.application), pq.QuoteLiteral(schemasType), drop, suffix)

	return "DO " + pgquote.DollarQuote(tag, body) + ";"
}

// DropVarSchemas drops every schema currently recorded for
// (application, schemas_type) in the variable-revision table, union the
// supplied list, optionally CASCADE.
func (g *Generator) DropVarSchemas(hostType, schemasType string, schemas []string, cascade bool) string {
	return g.dropSchemas("var_revision", "drop_var_schemas", hostType, schemasType, schemas, cascade)
}

// DropFuncSchemas is DropVarSchemas for the functional-revision table.
func (g *Generator) DropFuncSchemas(hostType, schemasType string, schemas []string, cascade bool) string {
	return g.dropSchemas("func_revision", "drop_func_schemas", hostType, schemasType, schemas, cascade)
}

func (g *Generator) fetchRevision(ctx context.Context, conn db.Connection, kind, hostType, schemasType string) (revision, comment *string, err error) {
	query := fmt.Sprintf("SELECT revision, comment FROM %s WHERE application = %s AND schemas_type = %s FOR UPDATE;",
		g.qualified(hostType, kind), pq.QuoteLiteral(g.application), pq.QuoteLiteral(schemasType))

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil, rows.Err()
	}
	if err := rows.Scan(&revision, &comment); err != nil {
		return nil, nil, err
	}
	return revision, comment, rows.Err()
}

// FetchVarRevision executes a SELECT ... FOR UPDATE against the variable
// revision table and returns (revision, comment), both nil if no row
// exists.
func (g *Generator) FetchVarRevision(ctx context.Context, conn db.Connection, hostType, schemasType string) (*string, *string, error) {
	return g.fetchRevision(ctx, conn, "var_revision", hostType, schemasType)
}

// FetchFuncRevision is FetchVarRevision for the functional-revision table.
func (g *Generator) FetchFuncRevision(ctx context.Context, conn db.Connection, hostType, schemasType string) (*string, *string, error) {
	return g.fetchRevision(ctx, conn, "func_revision", hostType, schemasType)
}

func pgArrayLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = pq.QuoteLiteral(v)
	}
	return "ARRAY[" + strings.Join(quoted, ", ") + "]::text[]"
}
