package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/sqldir"
	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/store"
	"github.com/hupe1980/sqldir/store/s3"
)

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "init",
			Usage:  "create the file table and apply the retention policy",
			Action: initAction,
		},
		{
			Name:   "ls",
			Usage:  "list files with their length and modification time",
			Action: lsAction,
		},
		{
			Name:      "cat",
			Usage:     "write a file to stdout",
			ArgsUsage: "NAME",
			Action:    catAction,
		},
		{
			Name:      "rm",
			Usage:     "delete files",
			ArgsUsage: "NAME...",
			Action:    rmAction,
		},
		{
			Name:   "purge",
			Usage:  "remove soft-deleted files whose grace period elapsed",
			Action: purgeAction,
		},
		{
			Name:   "commits",
			Usage:  "list live commit points",
			Action: commitsAction,
		},
		{
			Name:  "export",
			Usage: "copy the files of the newest commit to S3, commit descriptor last",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "bucket", Required: true, Usage: "destination bucket"},
				&cli.StringFlag{Name: "prefix", Usage: "destination key prefix"},
				&cli.StringFlag{Name: "region", EnvVars: []string{"AWS_REGION"}, Usage: "AWS region"},
				&cli.StringFlag{Name: "endpoint-url", EnvVars: []string{"S3_ENDPOINT_URL"}, Usage: "override the S3 endpoint"},
				&cli.StringFlag{Name: "lock-table", Usage: "DynamoDB table of locks"},
			},
			Action: exportAction,
		},
	}
}

func initAction(c *cli.Context) error {
	sess, err := openStore(c.Context, c, false)
	if err != nil {
		return err
	}
	commits, err := sess.store.Commits(c.Context)
	if err != nil {
		return errors.Join(err, sess.Close())
	}
	fmt.Fprintf(c.App.Writer, "initialized: %d commit(s), retention %s, merge %s\n",
		len(commits), sess.store.RetentionPolicy(), sess.store.MergePolicy())
	return sess.Close()
}

func lsAction(c *cli.Context) (err error) {
	sess, err := openStore(c.Context, c, true)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sess.Close()) }()

	dir := sess.store.Directory()
	names, err := dir.ListAll(c.Context)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, name := range names {
		length, err := dir.FileLength(c.Context, name)
		if err != nil {
			return err
		}
		modified, err := dir.FileModified(c.Context, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t\n", length, modified.UTC().Format(time.RFC3339), name)
	}
	return tw.Flush()
}

func catAction(c *cli.Context) (err error) {
	if c.NArg() != 1 {
		return cli.Exit("cat expects exactly one file name", 2)
	}
	sess, err := openStore(c.Context, c, true)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sess.Close()) }()

	in, err := sess.store.Directory().OpenInput(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, in.Close()) }()
	_, err = io.Copy(c.App.Writer, in)
	return err
}

func rmAction(c *cli.Context) (err error) {
	if c.NArg() == 0 {
		return cli.Exit("rm expects at least one file name", 2)
	}
	sess, err := openStore(c.Context, c, false)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sess.Close()) }()

	var errs []error
	for _, name := range c.Args().Slice() {
		if err := sess.store.Directory().DeleteFile(c.Context, name); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "removed %s\n", name)
	}
	return errors.Join(errs...)
}

func purgeAction(c *cli.Context) (err error) {
	sess, err := openStore(c.Context, c, false)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sess.Close()) }()

	n, err := sess.store.Purge(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "purged %d file(s)\n", n)
	return nil
}

func commitsAction(c *cli.Context) (err error) {
	sess, err := openStore(c.Context, c, true)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sess.Close()) }()

	commits, err := sess.store.Commits(c.Context)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GENERATION\tNAME\tCREATED\tFILES\tSEGMENTS")
	for _, cp := range commits {
		d := cp.Descriptor()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			d.Generation, d.Name(), d.CreatedAt.UTC().Format(time.RFC3339), len(d.Files), segmentNames(cp.Segments()))
	}
	return tw.Flush()
}

func segmentNames(segments []merge.SegmentInfo) string {
	if len(segments) == 0 {
		return "-"
	}
	names := make([]string, len(segments))
	for i, s := range segments {
		names[i] = s.Name
	}
	return strings.Join(names, ",")
}

func exportAction(c *cli.Context) (err error) {
	sess, err := openStore(c.Context, c, true)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sess.Close()) }()

	dst, err := s3.New(c.Context, s3.Config{
		Bucket:    c.String("bucket"),
		Prefix:    c.String("prefix"),
		Region:    c.String("region"),
		Endpoint:  c.String("endpoint-url"),
		LockTable: c.String("lock-table"),
	})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, dst.Close()) }()

	n, err := export(c.Context, sess.store, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "exported %d file(s) to s3://%s/%s\n", n, dst.Bucket(), c.String("prefix"))
	return nil
}

// export copies the files of the newest commit, and the commit descriptor
// last, so an interrupted export never exposes a partial commit.
func export(ctx context.Context, st *sqldir.Store, dst store.Directory) (int, error) {
	latest, err := st.Latest(ctx)
	if err != nil {
		return 0, err
	}
	files := latest.Files()
	for _, name := range files {
		if err := store.Copy(ctx, st.Directory(), name, dst, name); err != nil {
			return 0, fmt.Errorf("export %s: %w", name, err)
		}
	}
	return len(files), nil
}
