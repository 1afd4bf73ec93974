// Package merge selects which segments of an index are consolidated.
//
// A Policy inspects the current segments and returns a Specification listing
// zero or more merges. Policies never perform a merge; the index engine does.
//
// Four algorithms are built in:
//
//	logbytesize  log-scale levels by segment size in bytes (default)
//	logdoc       log-scale levels by document count
//	tiered       size buckets, merged once a bucket holds enough segments
//	leveled      level-based, promoting the oldest segment of a full level
//
// A Registry resolves a policy by name. Backends may contribute Defaults,
// for example a smaller maximum merge size for databases that store each
// file in one row; configured settings always override them.
package merge
