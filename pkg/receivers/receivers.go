// SPDX-License-Identifier: Apache-2.0

// Package receivers implements the per-host SQL sinks the orchestrator
// drives through a deployment: executing fragments against a live
// connection, writing them (and any driver notices) to prefixed output
// files, or both, and committing or rolling back each host's transaction
// independently at the end of its phase sequence.
package receivers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pgmakeschemas/pgms/pkg/db"
	"github.com/pgmakeschemas/pgms/pkg/model"
)

// ReceiversError wraps a driver error encountered while executing a
// fragment against a host, identifying the host and fragment that failed.
type ReceiversError struct {
	Host         string
	FragmentInfo model.FragmentMeta
	Cause        error
}

func (e ReceiversError) Error() string {
	return fmt.Sprintf("%s: %+v: %v", e.Host, e.FragmentInfo, e.Cause)
}

func (e ReceiversError) Unwrap() error { return e.Cause }

// Connector opens a db.Connection for a conninfo string. db.Open satisfies
// this; tests substitute a fake.
type Connector func(ctx context.Context, connInfo string) (db.Connection, error)

// OpenPQConnection adapts db.Open to the Connector signature.
func OpenPQConnection(ctx context.Context, connInfo string) (db.Connection, error) {
	return db.Open(ctx, connInfo)
}

type hostState struct {
	conn        db.Connection
	outFile     *os.File
	noticesFile *os.File
	fragCounter int
}

// Receivers is the per-run sink: Execute mode runs fragments against a
// live connection, Output mode writes them (and driver notices, when both
// Execute and Output are set) to prefixed per-host files. Pretend rolls
// back instead of committing at host end.
type Receivers struct {
	connect      Connector
	execute      bool
	pretend      bool
	outputPrefix string

	order []string
	hosts map[string]*hostState
}

// New returns a Receivers. outputPrefix == "" disables output-file mode.
func New(connect Connector, execute, pretend bool, outputPrefix string) *Receivers {
	return &Receivers{
		connect:      connect,
		execute:      execute,
		pretend:      pretend,
		outputPrefix: outputPrefix,
		hosts:        make(map[string]*hostState),
	}
}

func (r *Receivers) wantsNotices() bool {
	return r.execute && r.outputPrefix != ""
}

func sanitizeNamePart(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	return strings.ReplaceAll(s, ".", "-")
}

// BeginHost opens (as configured) a connection and/or output files for
// host, rejecting a host name already seen in this run and, under
// --execute, a host with no conninfo.
func (r *Receivers) BeginHost(ctx context.Context, host model.Host) error {
	if _, ok := r.hosts[host.Name]; ok {
		return fmt.Errorf("%q: non unique host_name", host.Name)
	}

	st := &hostState{fragCounter: 1}

	if r.execute {
		if host.ConnInfo == nil {
			return fmt.Errorf("%q: unable to connect to host without its conninfo", host.Name)
		}
		conn, err := r.connect(ctx, *host.ConnInfo)
		if err != nil {
			return fmt.Errorf("%q: connecting: %w", host.Name, err)
		}
		st.conn = conn
	}

	if r.outputPrefix != "" {
		path := fmt.Sprintf("%s.%s.%s.sql", r.outputPrefix, sanitizeNamePart(host.Name), sanitizeNamePart(host.Type))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("%q: opening output file: %w", host.Name, err)
		}
		if _, err := f.WriteString("-- -*- mode: sql; coding: utf-8 -*-\n\n--begin;\n\n"); err != nil {
			f.Close()
			return err
		}
		st.outFile = f

		if r.wantsNotices() {
			noticesPath := fmt.Sprintf("%s.%s.%s.notices", r.outputPrefix, sanitizeNamePart(host.Name), sanitizeNamePart(host.Type))
			nf, err := os.Create(noticesPath)
			if err != nil {
				f.Close()
				return fmt.Errorf("%q: opening notices file: %w", host.Name, err)
			}
			st.noticesFile = nf
		}
	}

	r.hosts[host.Name] = st
	r.order = append(r.order, host.Name)
	return nil
}

// LookFragmentI previews the index the next WriteFragmentOkNotice will use
// for host, without consuming it. Returns 0 if host has no output file.
func (r *Receivers) LookFragmentI(hostName string) int {
	st := r.hosts[hostName]
	if st == nil || st.outFile == nil {
		return 0
	}
	return st.fragCounter
}

func (r *Receivers) writeFragment(st *hostState, sql string) error {
	if st.outFile == nil {
		return nil
	}
	_, err := fmt.Fprintf(st.outFile, "%s\n\n", sql)
	return err
}

// writeNotices drains the connection's pending notices into the notices
// file. Called after every fragment and again on finish/abort/close, so
// operators always see what succeeded even when a host fails mid-run.
func (r *Receivers) writeNotices(st *hostState, conn db.Connection) error {
	if st.noticesFile == nil || conn == nil {
		return nil
	}
	for _, notice := range conn.Notices() {
		if _, err := fmt.Fprintf(st.noticesFile, "%s\n", notice); err != nil {
			return err
		}
	}
	return nil
}

// WriteFragmentOkNotice emits a DO-block marker for fragment N (and a
// matching line in the notices file, if open), then bumps the counter.
func (r *Receivers) WriteFragmentOkNotice(hostName string) error {
	st := r.hosts[hostName]
	if st == nil || st.outFile == nil {
		return nil
	}

	n := st.fragCounter
	if _, err := fmt.Fprintf(st.outFile, "do $do$begin raise notice 'fragment %d: ok'; end$do$;\n\n", n); err != nil {
		return err
	}
	if st.noticesFile != nil {
		if _, err := fmt.Fprintf(st.noticesFile, "\nfragment %d: ok\n\n", n); err != nil {
			return err
		}
	}
	st.fragCounter++
	return nil
}

// Conn returns the live connection held for hostName, or nil if the host
// was not begun under --execute. Used by callers (e.g. the upgrade
// orchestrator) that need to run a read against the host's open
// transaction outside the fragment-execution path.
func (r *Receivers) Conn(hostName string) db.Connection {
	st := r.hosts[hostName]
	if st == nil {
		return nil
	}
	return st.conn
}

// Execute runs one fragment against hostName: writes it to the output
// file if open, executes it against the live connection if in execute
// mode (wrapping any driver error as ReceiversError and always flushing
// notices afterward), then writes the fragment-ok marker.
func (r *Receivers) Execute(ctx context.Context, hostName string, fragment model.LazyFragment) error {
	st := r.hosts[hostName]
	if st == nil {
		return fmt.Errorf("%q: host not begun", hostName)
	}

	sql, err := fragment.SQL()
	if err != nil {
		return fmt.Errorf("%q: reading fragment: %w", hostName, err)
	}

	if err := r.writeFragment(st, sql); err != nil {
		return err
	}

	if r.execute {
		_, execErr := st.conn.Exec(ctx, sql)
		noticeErr := r.writeNotices(st, st.conn)
		if execErr != nil {
			return ReceiversError{Host: hostName, FragmentInfo: fragment.Meta, Cause: execErr}
		}
		if noticeErr != nil {
			return noticeErr
		}
	}

	return r.WriteFragmentOkNotice(hostName)
}

// FinishHost commits (or rolls back, under pretend) the host's connection
// and closes its files, removing the host from further tracking.
func (r *Receivers) FinishHost(hostName string) error {
	st := r.hosts[hostName]
	if st == nil {
		return fmt.Errorf("%q: host not begun", hostName)
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if st.conn != nil {
		if r.pretend {
			record(st.conn.Rollback())
		} else {
			record(st.conn.Commit())
		}
		record(r.writeNotices(st, st.conn))
	}

	if st.noticesFile != nil {
		record(st.noticesFile.Close())
	}

	if st.outFile != nil {
		if _, err := st.outFile.WriteString("--commit;\n"); err != nil {
			record(err)
		}
		record(st.outFile.Close())
	}

	delete(r.hosts, hostName)
	return firstErr
}

// AbortHost always rolls back hostName's connection (ignoring --pretend,
// since there is nothing to distinguish: the host failed) and closes its
// files without a --commit; footer, removing the host from tracking.
func (r *Receivers) AbortHost(hostName string) error {
	st := r.hosts[hostName]
	if st == nil {
		return nil
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if st.conn != nil {
		record(st.conn.Rollback())
		record(r.writeNotices(st, st.conn))
	}
	if st.noticesFile != nil {
		record(st.noticesFile.Close())
	}
	if st.outFile != nil {
		record(st.outFile.Close())
	}

	delete(r.hosts, hostName)
	return firstErr
}

// Close releases any resources still open (e.g. after a host failure
// aborted its phase sequence before FinishHost ran), in reverse order of
// BeginHost. Open connections are rolled back, not committed.
func (r *Receivers) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for i := len(r.order) - 1; i >= 0; i-- {
		hostName := r.order[i]
		st, ok := r.hosts[hostName]
		if !ok {
			continue
		}
		if st.conn != nil {
			record(st.conn.Rollback())
			record(r.writeNotices(st, st.conn))
		}
		if st.noticesFile != nil {
			record(st.noticesFile.Close())
		}
		if st.outFile != nil {
			record(st.outFile.Close())
		}
		delete(r.hosts, hostName)
	}
	r.order = nil
	return firstErr
}
