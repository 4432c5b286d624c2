package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeRow struct {
	val bool
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.val
	return nil
}

type fakeQuerier struct {
	row   fakeRow
	query string
	args  []any
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.query = sql
	f.args = args
	return f.row
}

func TestPostgresCategoryExists(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{val: true}}
	p := &Postgres{db: q}

	ok, err := p.CategoryExists(context.Background(), 7, 12)
	if err != nil || !ok {
		t.Fatalf("CategoryExists() = %v, %v", ok, err)
	}
	if !strings.Contains(q.query, "FROM categories") {
		t.Errorf("query = %q", q.query)
	}
	if q.args[0] != int64(12) || q.args[1] != int64(7) {
		t.Errorf("args = %v, want [id scope]", q.args)
	}
}

func TestPostgresGoalExistsError(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: errors.New("conn reset")}}
	p := &Postgres{db: q}

	_, err := p.GoalExists(context.Background(), 1, 2)
	if err == nil || !strings.Contains(err.Error(), "conn reset") {
		t.Fatalf("GoalExists() error = %v", err)
	}
	if !strings.Contains(q.query, "FROM goals") {
		t.Errorf("query = %q", q.query)
	}
}

func TestStatic(t *testing.T) {
	s := Static{
		Categories: map[int64][]int64{1: {10, 11}},
		Goals:      map[int64][]int64{1: {3}},
	}
	testCases := []struct {
		name string
		got  func() (bool, error)
		want bool
	}{
		{"own category", func() (bool, error) { return s.CategoryExists(context.Background(), 1, 11) }, true},
		{"other scope category", func() (bool, error) { return s.CategoryExists(context.Background(), 2, 11) }, false},
		{"own goal", func() (bool, error) { return s.GoalExists(context.Background(), 1, 3) }, true},
		{"unknown goal", func() (bool, error) { return s.GoalExists(context.Background(), 1, 4) }, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.got()
			if err != nil || got != tc.want {
				t.Errorf("got %v, %v; want %v", got, err, tc.want)
			}
		})
	}
}
