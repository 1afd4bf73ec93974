// Package sqlstore implements store.Directory on a single relational table.
//
// Every file is one row:
//
//	file_name  primary key
//	payload    binary content, compressed for file types with a codec
//	size       logical length in bytes
//	deleted    soft-delete flag
//	modified   last change in Unix milliseconds
//
// Outputs buffer and spill locally (see store.NewSpillingOutput) and insert
// the row on Close, so a file becomes visible all at once. Inputs either
// select one buffer-sized range per refill or fetch the whole payload when
// they open; the choice is made per file type through FileConfigs.
//
// The SQL differences between SQLite, PostgreSQL and MySQL are isolated in
// Dialect. Callers that need a file write to join their own transaction bind
// it to the context with ContextWithTx.
package sqlstore
