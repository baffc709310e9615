// Command cspgen scans HTML templates for inline <script> and <style>
// blocks that are not nonce-protected and records their SHA-256 digests in
// the hash table embedded by internal/csp. It runs at build time through
// go:generate; the service never modifies the table.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

func main() {
	templates := flag.String("templates", "", "directory containing *.tmpl / *.html templates")
	out := flag.String("out", "known_hashes.yaml", "hash table to merge into")
	check := flag.Bool("check", false, "exit non-zero if the table is out of date instead of writing it")
	flag.Parse()

	if *templates == "" {
		fmt.Fprintln(os.Stderr, "cspgen: -templates is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(os.Stdout, *templates, *out, *check); err != nil {
		fmt.Fprintf(os.Stderr, "cspgen: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, templatesDir, outPath string, check bool) error {
	found, err := scanTemplates(templatesDir)
	if err != nil {
		return err
	}

	existing, err := loadTable(outPath)
	if err != nil {
		return err
	}

	registry, err := csp.NewHashRegistry(nil, csp.SHA256)
	if err != nil {
		return errors.Wrap(err, "failed to create digest registry")
	}
	table, c := merge(existing, found, registry.ComputeDigest)

	for _, name := range c.Added {
		fmt.Fprintf(w, "added   %s\n", name)
	}
	for _, name := range c.Updated {
		fmt.Fprintf(w, "updated %s\n", name)
	}

	if c.empty() {
		fmt.Fprintf(w, "%s is up to date (%d entries)\n", outPath, len(table.Entries))
		return nil
	}
	if check {
		return errors.Errorf("%s is out of date; run go generate ./internal/csp", outPath)
	}

	data, err := encodeTable(table)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", outPath)
	}
	fmt.Fprintf(w, "wrote %s (%d entries)\n", outPath, len(table.Entries))
	return nil
}
