package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/digest"
	"github.com/getwalmarket/walmarket/oracle"
)

func cmdHash(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(errOut)
	reportDigest := fs.Bool("digest", false, "Print the report digest of a report's tee_proof instead")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: walmarket-oracle hash [--digest] <file.json>")
		return 2
	}
	path := fs.Arg(0)
	b, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(path), err)
		return 1
	}

	if *reportDigest {
		var r oracle.Report
		if err := json.Unmarshal(b, &r); err != nil {
			fmt.Fprintf(errOut, "parse report: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(out, digest.Hex(digest.Build(digest.FieldsFromProof(r.Proof))))
		return 0
	}

	h, err := canon.Hash(json.RawMessage(b))
	if err != nil {
		reportFailure(errOut, "hash", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, h)
	return 0
}
