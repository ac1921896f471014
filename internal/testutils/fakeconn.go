// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// FakeConnection is an in-memory db.Connection double: it records every
// query passed to Exec/Query and never touches a real database. FailOn,
// when set, makes Exec/Query return its error the first time a query
// containing that substring is seen.
type FakeConnection struct {
	Executed   []string
	Committed  bool
	RolledBack bool
	FailOn     string

	notices []string
}

func (f *FakeConnection) Exec(_ context.Context, query string) (sql.Result, error) {
	f.Executed = append(f.Executed, query)
	if f.FailOn != "" && strings.Contains(query, f.FailOn) {
		return nil, errors.New("fake: " + f.FailOn)
	}
	return fakeResult{}, nil
}

func (f *FakeConnection) Query(_ context.Context, query string) (*sql.Rows, error) {
	f.Executed = append(f.Executed, query)
	return nil, nil
}

func (f *FakeConnection) Commit() error {
	f.Committed = true
	return nil
}

func (f *FakeConnection) Rollback() error {
	f.RolledBack = true
	return nil
}

func (f *FakeConnection) Notices() []string {
	drained := f.notices
	f.notices = nil
	return drained
}

func (f *FakeConnection) PushNotice(n string) {
	f.notices = append(f.notices, n)
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }
