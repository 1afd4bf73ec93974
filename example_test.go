package sqldir_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/sqldir"
	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/store"
)

// Example_open demonstrates writing a segment file into SQLite and
// recording it in a commit.
func Example_open() {
	ctx := context.Background()

	tmp, err := os.MkdirTemp("", "sqldir-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmp)

	db, err := sql.Open("sqlite", filepath.Join(tmp, "index.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	st, err := sqldir.Open(ctx, db, sqldir.WithSpillDir(tmp))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	out, err := st.Directory().CreateOutput(ctx, "_0.cfs")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := out.Write([]byte("segment bytes")); err != nil {
		log.Fatal(err)
	}
	if err := out.Close(); err != nil {
		log.Fatal(err)
	}

	c, err := st.Commit(ctx, []string{"_0.cfs"}, []merge.SegmentInfo{{Name: "_0", SizeBytes: 13, DocCount: 1}})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(c.Name(), st.RetentionPolicy())
	// Output: segments_1 expirationtime(1h0m0s)
}

// Example_retention demonstrates selecting a retention policy from settings.
func Example_retention() {
	ctx := context.Background()

	s := config.New().
		Set("retention.type", "keeplastn").
		Set("retention.numToKeep", "2")

	st, err := sqldir.OpenDirectory(ctx, store.NewMemoryDirectory(), sqldir.WithSettings(s))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	for range 4 {
		if _, err := st.Commit(ctx, nil, nil); err != nil {
			log.Fatal(err)
		}
	}
	commits, err := st.Commits(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, c := range commits {
		fmt.Println(c.Name())
	}
	// Output:
	// segments_3
	// segments_4
}
