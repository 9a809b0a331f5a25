// Package testutil provides test helpers for msgextract tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - fs_helpers.go: filesystem operations (WriteFile, ReadFile)
//   - encoding.go: encoded text samples for charset tests
//
// Fixture builders live in subpackages: email (RFC 822 messages),
// cfbtest (compound files) and msgtest (Outlook .msg files).
package testutil
