// Package testutil provides testing utilities for sqldir.
//
// This package is intended for use in tests only. It provides seeded random
// payloads, a manual clock and a conformance suite that every
// store.Directory implementation runs.
//
// # Random Payloads
//
//	rng := testutil.NewRNG(seed)
//	payload := rng.Bytes(4096)
//
// # Directory Conformance
//
//	testutil.RunDirectorySuite(t, func(t *testing.T) store.Directory {
//	    return store.NewMemoryDirectory()
//	})
package testutil
