package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
)

func TestIsSQLiteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		substr string
		want   bool
	}{
		{"value form", fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrConstraint}), "constraint failed", true},
		{"pointer form", fmt.Errorf("insert: %w", &sqlite3.Error{Code: sqlite3.ErrConstraint}), "constraint failed", true},
		{"unrelated substring", fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrConstraint}), "no such table", false},
		{"typed nil pointer", typedNilError{}, "any", false},
		{"plain error", errors.New("some other error"), "error", false},
		{"nil", nil, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteError(tt.err, tt.substr); got != tt.want {
				t.Errorf("isSQLiteError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// typedNilError lets errors.As extract a typed nil *sqlite3.Error.
type typedNilError struct {
	err *sqlite3.Error
}

func (e typedNilError) Error() string {
	return "typed nil error wrapper"
}

func (e typedNilError) As(target any) bool {
	if ptr, ok := target.(**sqlite3.Error); ok {
		*ptr = e.err
		return true
	}
	return false
}

func TestFormatParseTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 7*int(time.Millisecond), time.UTC)
	got := formatTime(ts)
	if got != "2024-03-01 10:00:00.007" {
		t.Fatalf("formatTime() = %v", got)
	}
	if back := parseTime(got.(string)); !back.Equal(ts) {
		t.Errorf("parseTime() = %v, want %v", back, ts)
	}
	if back := parseTime("2024-03-01 10:00:00"); !back.Equal(ts.Truncate(time.Second)) {
		t.Errorf("parseTime(seconds) = %v", back)
	}
	if formatTime(time.Time{}) != nil {
		t.Error("zero time should format as NULL")
	}
}
