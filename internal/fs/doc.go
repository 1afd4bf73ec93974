// Package fs is the local file system seam of the store backends.
//
// FSDirectory files and the spill files of large outputs are created through
// a [FileSystem]. Production code uses [OS]; tests substitute [FaultyFS] to
// fail creates, renames or writes past a byte budget:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("spill", fs.Fault{FailAfterBytes: 1024})
//
// Operations take no context: local syscalls cannot be interrupted.
package fs
