// SPDX-License-Identifier: Apache-2.0

// Package aclsql emits the role-path and ACL-guard SQL fragments that
// surround each schema's var/func fragments: setting the role and search
// path a fragment runs under, creating a schema with its owner and grants,
// and asserting at the end that a schema's ACL set is exactly what the
// manifest declared.
package aclsql

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/pgmakeschemas/pgms/pkg/pgquote"
)

// defaultRole is used by PgRolePath when role is empty.
const defaultRole = "postgres"

// PgRolePath emits the three LOCAL settings a fragment runs under: the
// role it executes as, the search path it sees, and check_function_bodies
// turned off so deferred-dependency function bodies can reference objects
// not yet created. role defaults to "postgres"; an empty schemaName yields
// an empty search path.
func PgRolePath(role, schemaName string) string {
	if role == "" {
		role = defaultRole
	}

	searchPath := ""
	if schemaName != "" {
		searchPath = pgquote.Identifier(schemaName)
	}

	return fmt.Sprintf(`SET LOCAL ROLE %s;
SET LOCAL search_path = %s;
SET LOCAL check_function_bodies = off;`, pgquote.Identifier(role), pq.QuoteLiteral(searchPath))
}

// FragmentACL carries the role-path metadata attached to a fragment by
// ApplyPgRolePath, for display in verbose logging.
type FragmentACL struct {
	PgRole       string
	PgSearchPath string
}

// ApplyPgRolePath prepends the role-path preamble to sql and appends a
// trailing statement terminator, returning the wrapped text alongside the
// metadata describing the role and search path it now runs under.
func ApplyPgRolePath(sql, role, schemaName string) (string, FragmentACL) {
	meta := FragmentACL{PgRole: role, PgSearchPath: schemaName}
	if role == "" {
		meta.PgRole = defaultRole
	}

	wrapped := PgRolePath(role, schemaName) + "\n" + strings.TrimRight(sql, "\n\t ;") + ";\n"
	return wrapped, meta
}

// CreateSchema emits CREATE SCHEMA, an OWNER TO, a REVOKE ALL from public,
// and one GRANT USAGE per grantee.
func CreateSchema(schema, owner string, grants []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE SCHEMA %s;\n", pgquote.Identifier(schema))
	fmt.Fprintf(&b, "ALTER SCHEMA %s OWNER TO %s;\n", pgquote.Identifier(schema), pgquote.Identifier(owner))
	fmt.Fprintf(&b, "REVOKE ALL ON SCHEMA %s FROM PUBLIC;\n", pgquote.Identifier(schema))

	for _, grantee := range grants {
		fmt.Fprintf(&b, "GRANT USAGE ON SCHEMA %s TO %s;\n", pgquote.Identifier(schema), pgquote.Identifier(grantee))
	}

	return b.String()
}

// GuardACLs emits a DO-block that explodes pg_namespace.nspacl for schema
// via aclexplode and consumes each (grantor, grantee, privilege, is_grantable)
// entry against two tracking lists: CREATE held by owner alone, and USAGE
// held by owner plus every grantee in grants. Every entry must match one of
// the two lists exactly (non-grantable, granted by owner); in strict mode
// (weak == false) any entry that matches neither raises "unexpected acl: ..."
// immediately, while weak mode silently tolerates extra entries. In both
// modes, any CREATE or USAGE entry never consumed by the loop raises
// "missing create acls: ..." / "missing usage acls: ..." once the loop ends,
// so required grants can never be silently missing in weak mode either.
func GuardACLs(schema, owner string, grants []string, weak bool) string {
	createList := []string{owner}
	usageList := append([]string{owner}, grants...)

	createLiteral := pgArrayLiteral(createList)
	usageLiteral := pgArrayLiteral(usageList)
	qSchema := pq.QuoteLiteral(schema)
	qOwner := pq.QuoteLiteral(owner)

	var b strings.Builder
	b.WriteString("DECLARE\n")
	fmt.Fprintf(&b, "    _create_list text[] := %s::text[];\n", createLiteral)
	fmt.Fprintf(&b, "    _usage_list text[] := %s::text[];\n", usageLiteral)
	b.WriteString("    _grantor text;\n")
	b.WriteString("    _grantee text;\n")
	b.WriteString("    _privilege_type text;\n")
	b.WriteString("    _is_grantable boolean;\n")
	b.WriteString("BEGIN\n")
	fmt.Fprintf(&b, "    PERFORM 1 FROM pg_namespace ns WHERE ns.nspname = %s AND ns.nspacl IS NULL;\n", qSchema)
	b.WriteString("    IF FOUND THEN\n")
	fmt.Fprintf(&b, "        EXECUTE format('REVOKE ALL ON SCHEMA %%I FROM PUBLIC', %s);\n", qSchema)
	b.WriteString("    END IF;\n")
	b.WriteString("    FOR _grantor, _grantee, _privilege_type, _is_grantable IN\n")
	b.WriteString("        SELECT CASE WHEN acl.grantor = 0 THEN 'public'\n")
	b.WriteString("                    ELSE (SELECT r.rolname FROM pg_roles r WHERE oid = acl.grantor) END,\n")
	b.WriteString("               CASE WHEN acl.grantee = 0 THEN 'public'\n")
	b.WriteString("                    ELSE (SELECT r.rolname FROM pg_roles r WHERE oid = acl.grantee) END,\n")
	b.WriteString("               acl.privilege_type,\n")
	b.WriteString("               acl.is_grantable\n")
	b.WriteString("        FROM (\n")
	b.WriteString("            SELECT (aclexplode(ns.nspacl)).*\n")
	b.WriteString("            FROM pg_namespace ns\n")
	fmt.Fprintf(&b, "            WHERE ns.nspname = %s\n", qSchema)
	b.WriteString("        ) acl\n")
	b.WriteString("    LOOP\n")
	fmt.Fprintf(&b, "        IF _grantor = %s AND _grantee = ANY (%s::text[])\n", qOwner, createLiteral)
	b.WriteString("            AND _privilege_type = 'CREATE' AND _is_grantable = false THEN\n")
	b.WriteString("            _create_list := array_remove(_create_list, _grantee);\n")
	fmt.Fprintf(&b, "        ELSIF _grantor = %s AND _grantee = ANY (%s::text[])\n", qOwner, usageLiteral)
	b.WriteString("            AND _privilege_type = 'USAGE' AND _is_grantable = false THEN\n")
	b.WriteString("            _usage_list := array_remove(_usage_list, _grantee);\n")
	if !weak {
		b.WriteString("        ELSE\n")
		fmt.Fprintf(&b, "            RAISE EXCEPTION 'unexpected acl: %% %% %% %% %%', quote_nullable(%s), quote_nullable(_grantor), quote_nullable(_grantee), quote_nullable(_privilege_type), quote_nullable(_is_grantable);\n", qSchema)
	}
	b.WriteString("        END IF;\n")
	b.WriteString("    END LOOP;\n")
	b.WriteString("    IF array_length(_create_list, 1) IS NOT NULL THEN\n")
	fmt.Fprintf(&b, "        RAISE EXCEPTION 'missing create acls: %% %%', quote_nullable(%s), quote_nullable(_create_list);\n", qSchema)
	b.WriteString("    END IF;\n")
	b.WriteString("    IF array_length(_usage_list, 1) IS NOT NULL THEN\n")
	fmt.Fprintf(&b, "        RAISE EXCEPTION 'missing usage acls: %% %%', quote_nullable(%s), quote_nullable(_usage_list);\n", qSchema)
	b.WriteString("    END IF;\n")
	b.WriteString("END")

	return "DO " + pgquote.DollarQuote("guard_acls", b.String()) + ";"
}

func pgArrayLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = pq.QuoteLiteral(v)
	}
	return "ARRAY[" + strings.Join(quoted, ", ") + "]"
}
