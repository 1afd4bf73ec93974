// Package minio provides a store.Directory on MinIO and other S3-compatible
// object stores using the MinIO client.
//
// Every file is one object below a key prefix. Outputs buffer in memory,
// spill to a local temporary file past the spill threshold and are uploaded
// with a single PutObject when closed, so a file is invisible until it is
// complete. Inputs read with ranged GETs, one per buffer refill.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dir := miniodir.NewDirectory(client, "indexes", miniodir.WithPrefix("products/"))
//	st, err := sqldir.OpenDirectory(ctx, dir)
//
// Locks are marker objects and therefore advisory: two processes racing for
// the same lock can both succeed. Use the s3 package with a DynamoDB lock
// table when that matters.
package minio
