// Package commit stores commit descriptors and reclaims the files of deleted
// commits.
//
// A commit is a descriptor file named segments_N, where N is the generation
// in base 36. It lists the files that make up one complete index state and
// describes its segments for merge selection. The file segments.gen records
// the newest generation so readers can find it without listing the
// directory.
//
// Descriptor layout (little endian):
//
//	Magic         4 bytes  "SQLD"
//	Version       4 bytes
//	Checksum      4 bytes  CRC32 (IEEE) of the payload
//	PayloadLength 4 bytes
//	Payload:
//	  Generation  8 bytes
//	  CreatedAt   8 bytes  Unix nanoseconds
//	  NumFiles    4 bytes
//	  Files...    2-byte length + name
//	  NumSegments 4 bytes
//	  Segments...
//	    Name      2-byte length + name
//	    SizeBytes 8 bytes
//	    DocCount  8 bytes
//	    Level     4 bytes
//
// The Deleter counts how many live commits reference each file. A
// retention.Policy decides which commits to drop; a file is removed only
// when no remaining commit references it.
package commit
