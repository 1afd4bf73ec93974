// Package retention decides which commit points of an index are deleted.
//
// A Policy is consulted twice: once with every commit point found when the
// directory opens (OnInit) and again after each new commit (OnCommit).
// Commit points are ordered oldest first, so the last element is the newest.
// A policy only flags commit points through CommitPoint.Delete; removing the
// files they reference is left to the reference-counting deleter in package
// commit, which keeps files still used by a retained commit.
//
// Policies are resolved by name through a Registry:
//
//	reg := retention.DefaultRegistry()
//	p, err := reg.New(settings.Sub("retention"), retention.Suggestion{})
//
// Built-in names are keepall, keeplastn, keepnoneoninit, expirationtime and
// keeplastcommit (the default).
package retention
