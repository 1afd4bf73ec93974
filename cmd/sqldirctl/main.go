// Command sqldirctl inspects and maintains index directories stored in a
// database table.
//
//	sqldirctl --dsn index.db init
//	sqldirctl --dsn index.db ls
//	sqldirctl --driver pgx --dsn postgres://localhost/idx commits
//	sqldirctl --dsn index.db export --bucket backups --prefix idx/2026-10-19
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sqldirctl: %v\n", err)
		os.Exit(1)
	}
}
