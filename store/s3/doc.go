// Package s3 provides a store.Directory over an S3 bucket.
//
// # Usage
//
//	dir, err := s3.New(ctx, s3.Config{
//	    Bucket:    "my-bucket",
//	    Prefix:    "indexes/products",
//	    Region:    "us-east-1",
//	    LockTable: "sqldir-locks",
//	})
//
//	st, err := sqldir.OpenDirectory(ctx, dir)
//
// # Features
//
//   - Outputs buffer and spill locally and upload the whole object on close
//   - Multipart uploads for large files
//   - Range reads per input buffer refill
//   - Automatic pagination for listing
//   - DynamoDB conditional writes for locks (marker objects otherwise)
//
// RenameFile copies and then deletes the source, so it is not atomic.
package s3
