// Package testutil provides fakes shared by package tests and the
// conformance harness.
//
// All fakes are safe for concurrent use and deterministic: the same calls
// in the same order produce the same trace.
package testutil
