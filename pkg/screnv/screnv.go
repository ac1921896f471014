// SPDX-License-Identifier: Apache-2.0

// Package screnv emits the scr-env SQL that exposes host and cluster
// metadata to running fragments as pg_temp functions: host_name, host_type,
// host_params, host_list, host_map, and shared. Each set is created at the
// start of a host's phase sequence with a unique name suffix (so concurrent
// host runs against the same connection family never collide) and dropped
// at the end.
package screnv

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pgmakeschemas/pgms/pkg/model"
	"github.com/pgmakeschemas/pgms/pkg/pgquote"
)

// Env names the pg_temp functions generated for one host run, unique
// per run so concurrent runs against distinct connections never collide on
// function name (pg_temp is connection-local regardless, but unique names
// also make --output SQL files self-contained and diffable).
type Env struct {
	suffix string
}

// New returns an Env with a fresh random suffix.
func New() Env {
	return Env{suffix: strings.ReplaceAll(uuid.NewString(), "-", "")}
}

func (e Env) functionName(base string) string {
	return base + "_" + e.suffix
}

// FunctionNames returns the function names this Env generates, for use
// by Drop and verbose logging.
func (e Env) FunctionNames() []string {
	return []string{
		e.functionName("host_name"),
		e.functionName("host_type"),
		e.functionName("host_params"),
		e.functionName("host_list"),
		e.functionName("host_map"),
		e.functionName("shared"),
	}
}

// Create emits CREATE FUNCTION statements for the given host within
// hosts, in pg_temp, returning the host's name, type, JSON params, the
// full host list/map as JSON, and the hosts file's shared JSON blob.
func (e Env) Create(host model.Host, hosts model.HostsDescr) (string, error) {
	paramsJSON, err := marshalJSON(host.Params)
	if err != nil {
		return "", fmt.Errorf("marshal host params: %w", err)
	}

	listJSON, mapJSON, err := hostListAndMap(hosts)
	if err != nil {
		return "", err
	}

	sharedJSON, err := marshalJSON(hosts.Shared)
	if err != nil {
		return "", fmt.Errorf("marshal shared: %w", err)
	}

	var b strings.Builder
	writeConstFunction(&b, e.functionName("host_name"), "text", pq.QuoteLiteral(host.Name))
	writeConstFunction(&b, e.functionName("host_type"), "text", pq.QuoteLiteral(host.Type))
	writeConstFunction(&b, e.functionName("host_params"), "jsonb", pq.QuoteLiteral(paramsJSON)+"::jsonb")
	writeConstFunction(&b, e.functionName("host_list"), "jsonb", pq.QuoteLiteral(listJSON)+"::jsonb")
	writeConstFunction(&b, e.functionName("host_map"), "jsonb", pq.QuoteLiteral(mapJSON)+"::jsonb")
	writeConstFunction(&b, e.functionName("shared"), "jsonb", pq.QuoteLiteral(sharedJSON)+"::jsonb")
	return b.String(), nil
}

// Drop emits DROP FUNCTION statements for every scr-env function.
func (e Env) Drop() string {
	var b strings.Builder
	for _, name := range e.FunctionNames() {
		fmt.Fprintf(&b, "DROP FUNCTION IF EXISTS pg_temp.%s();\n", pgquote.Identifier(name))
	}
	return b.String()
}

func writeConstFunction(b *strings.Builder, name, returnType, literalExpr string) {
	fmt.Fprintf(b, `CREATE FUNCTION pg_temp.%s() RETURNS %s AS %s LANGUAGE sql IMMUTABLE;
`, pgquote.Identifier(name), returnType, pgquote.DollarQuote(name, "SELECT "+literalExpr))
}

func hostListAndMap(hosts model.HostsDescr) (list, hostMap string, err error) {
	type hostJSON struct {
		Name   string         `json:"name"`
		Type   string         `json:"type"`
		Params map[string]any `json:"params"`
	}

	entries := make([]hostJSON, len(hosts.Hosts))
	byName := make(map[string]hostJSON, len(hosts.Hosts))
	for i, h := range hosts.Hosts {
		entry := hostJSON{Name: h.Name, Type: h.Type, Params: h.Params}
		entries[i] = entry
		byName[h.Name] = entry
	}

	list, err = marshalJSON(entries)
	if err != nil {
		return "", "", fmt.Errorf("marshal host list: %w", err)
	}
	hostMap, err = marshalJSON(byName)
	if err != nil {
		return "", "", fmt.Errorf("marshal host map: %w", err)
	}
	return list, hostMap, nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
