// Package sqldir stores a segment-based search index inside a relational
// database.
//
// Index files are rows of one table. Writers get seekable outputs that
// buffer in memory, spill to a temporary file once they outgrow their
// threshold and publish the whole file with a single INSERT when closed.
// Readers get random-access inputs that fetch one buffer per round-trip or
// the whole payload at open.
//
// # Quick Start
//
//	db, _ := sql.Open("sqlite", "index.db")
//	st, _ := sqldir.Open(ctx, db)
//	defer st.Close()
//
//	out, _ := st.Directory().CreateOutput(ctx, "_0.cfs")
//	out.Write(segmentBytes)
//	out.Close()
//
//	st.Commit(ctx, []string{"_0.cfs"}, []merge.SegmentInfo{{Name: "_0", SizeBytes: n, DocCount: docs}})
//
// Any store.Directory works with OpenDirectory, including the in-memory,
// local file system and object store directories.
//
// # Commits and Retention
//
// Every Commit writes a segments_N descriptor naming the files of that
// commit point. The retention policy decides which older commit points
// survive; a file is deleted once no surviving commit references it.
// Policies are selected by the retention.type setting:
//
//	keeplastcommit  (default) only the newest commit survives
//	keepall         nothing is ever deleted
//	keeplastn       the newest retention.numToKeep commits survive
//	expirationtime  commits older than retention.expirationTimeInSeconds
//	                relative to the newest commit are deleted
//	keepnoneoninit  every commit found at open is deleted
//
// Without a configured type the directory may suggest one; the database
// directory suggests expirationtime with its mark-deleted grace period.
//
// # Merge Policy
//
// FindMerges applies the merge policy selected by merge.type (logbytesize,
// logdoc, tiered or leveled) to the segments of the newest commit.
// Directories may contribute defaults below the configured values.
//
// # Configuration
//
// Settings are flat dotted keys, loaded from YAML or built in code:
//
//	s, _ := config.LoadYAMLFile("sqldir.yaml")
//	st, _ := sqldir.Open(ctx, db, sqldir.WithSettings(s))
//
// Invalid values fail Open with an error matching ErrConfiguration.
package sqldir
