// Package testutil provides test helpers for lifevault tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: database test setup (NewTestStore, CountRows)
//   - fs_helpers.go: filesystem fixtures (WriteFile, WriteJSON, WriteCSV)
package testutil
