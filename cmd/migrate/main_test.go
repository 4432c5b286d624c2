package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

type fakeMigrator struct {
	calls   []string
	upErr   error
	version uint
	verErr  error
	forced  int
	steps   int
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return nil
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return f.version, false, f.verErr
}

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return nil
}

func TestRun(t *testing.T) {
	testCases := []struct {
		name    string
		m       *fakeMigrator
		command string
		args    []string
		call    string
		wantErr string
	}{
		{"up", &fakeMigrator{}, "up", nil, "up", ""},
		{"up no change", &fakeMigrator{upErr: migrate.ErrNoChange}, "up", nil, "up", ""},
		{"up failure", &fakeMigrator{upErr: errors.New("boom")}, "up", nil, "up", "boom"},
		{"down", &fakeMigrator{}, "down", nil, "down", ""},
		{"steps", &fakeMigrator{}, "steps", []string{"-1"}, "steps", ""},
		{"steps without n", &fakeMigrator{}, "steps", nil, "", "requires a number"},
		{"version", &fakeMigrator{version: 1}, "version", nil, "version", ""},
		{"version before first migration", &fakeMigrator{verErr: migrate.ErrNilVersion}, "version", nil, "version", ""},
		{"force", &fakeMigrator{}, "force", []string{"1"}, "force", ""},
		{"force bad number", &fakeMigrator{}, "force", []string{"one"}, "", "invalid number"},
		{"unknown", &fakeMigrator{}, "sideways", nil, "", "unknown command"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(tc.m, tc.command, tc.args)
			if tc.wantErr == "" && err != nil {
				t.Fatalf("run() error = %v", err)
			}
			if tc.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tc.wantErr)) {
				t.Fatalf("run() error = %v, want %q", err, tc.wantErr)
			}
			if tc.call == "" {
				if len(tc.m.calls) != 0 {
					t.Errorf("calls = %v, want none", tc.m.calls)
				}
				return
			}
			if len(tc.m.calls) != 1 || tc.m.calls[0] != tc.call {
				t.Errorf("calls = %v, want [%s]", tc.m.calls, tc.call)
			}
		})
	}
}

func TestRunPassesNumbers(t *testing.T) {
	m := &fakeMigrator{}
	run(m, "steps", []string{"-2"})
	run(m, "force", []string{"3"})
	if m.steps != -2 || m.forced != 3 {
		t.Errorf("steps = %d, forced = %d", m.steps, m.forced)
	}
}
