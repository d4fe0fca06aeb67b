package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/getwalmarket/walmarket/config"
	"github.com/getwalmarket/walmarket/oracle"
	"github.com/getwalmarket/walmarket/storage"
	"github.com/getwalmarket/walmarket/storage/archive"
)

func cmdArchive(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: walmarket-oracle archive export|import ...")
		return 2
	}
	switch args[0] {
	case "export":
		return cmdArchiveExport(args[1:], out, errOut)
	case "import":
		return cmdArchiveImport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown archive subcommand: %s\n", args[0])
		return 2
	}
}

func openConfiguredStore(ctx context.Context, path string) (storage.BlobStore, func() error, error) {
	cfg, err := config.Read(path, ".env")
	if err != nil {
		return nil, nil, err
	}
	return cfg.Storage.Open(ctx)
}

func cmdArchiveExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("archive export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "oracle.yaml supplying the storage backends")
	outPath := fs.String("out", "", "Archive file to write")
	var labels multiFlag
	var reports multiFlag
	fs.Var(&labels, "label", "name=blob-id label recorded in index.json (repeatable)")
	fs.Var(&reports, "report", "Report JSON whose evidence blob is exported (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *outPath == "" {
		fmt.Fprintln(errOut, "missing --out")
		return 2
	}

	ids := append([]string(nil), fs.Args()...)
	for _, p := range reports {
		var r oracle.Report
		if err := readJSON(p, &r); err != nil {
			fmt.Fprintf(errOut, "read report %s: %v\n", p, err)
			return 1
		}
		ids = append(ids, r.Proof.BlobID)
	}
	if len(ids) == 0 {
		fmt.Fprintln(errOut, "nothing to export: pass blob ids or --report")
		return 2
	}
	labelMap := map[string]string{}
	for _, l := range labels {
		name, id, ok := strings.Cut(l, "=")
		if !ok || name == "" || id == "" {
			fmt.Fprintf(errOut, "invalid --label %q (expected name=blob-id)\n", l)
			return 2
		}
		labelMap[name] = id
	}

	ctx := context.Background()
	store, closeStore, err := openConfiguredStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(errOut, "storage: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(errOut, "create %s: %v\n", *outPath, err)
		return 1
	}
	if err := archive.Export(ctx, f, store, ids, archive.ExportOptions{Labels: labelMap, IncludeIndex: true}); err != nil {
		_ = f.Close()
		_ = os.Remove(*outPath)
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(errOut, "close %s: %v\n", *outPath, err)
		return 1
	}
	fmt.Fprintf(out, "Exported %d blobs to %s\n", len(ids), *outPath)
	return 0
}

func cmdArchiveImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("archive import", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "oracle.yaml supplying the storage backends")
	ignoreUnknown := fs.Bool("ignore-unknown", false, "Skip unknown archive entries instead of failing")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: walmarket-oracle archive import --config <oracle.yaml> <file.tar>")
		return 2
	}

	ctx := context.Background()
	store, closeStore, err := openConfiguredStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(errOut, "storage: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "open archive: %v\n", err)
		return 1
	}
	defer f.Close()
	ids, err := archive.Import(ctx, f, store, archive.ImportOptions{IgnoreUnknown: *ignoreUnknown})
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return 0
}
