package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"remindbot/internal/task/snapshot"
)

func inspect(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("usage: remindbot inspect <file>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return printSnapshot(c.App.Writer, f)
}

// printSnapshot lists every readable record. A corrupt tail is reported
// after the records that precede it.
func printSnapshot(w io.Writer, r io.Reader) error {
	jobs, err := snapshot.Decode(r)
	for _, j := range jobs {
		fmt.Fprintln(w, j.String())
	}
	fmt.Fprintf(w, "%d job(s)\n", len(jobs))
	if err != nil {
		fmt.Fprintf(w, "stopped early: %v\n", err)
	}
	return nil
}
