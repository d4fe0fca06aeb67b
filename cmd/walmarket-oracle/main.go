package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "report":
		return cmdReport(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "hash":
		return cmdHash(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "disclose":
		return cmdDisclose(args[1:], out, errOut)
	case "reveal":
		return cmdReveal(args[1:], out, errOut)
	case "archive":
		return cmdArchive(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "walmarket-oracle: verifiable AI oracle for prediction markets")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  walmarket-oracle report --config <oracle.yaml> --market <id> --question <q> --criteria <c> --sources <sources.json> [--category <c>] [--round <n>] [--task binary|numeric] [--disclosure-out <file>] [--shares-out <file>]")
	fmt.Fprintln(w, "  walmarket-oracle verify --report <report.json> --scheme <s> --pubkey <0xhex> [--enclave-id <id>] [--mrenclave <m>] [--max-skew <d>] [--now <unix>] [--require-hardware] [--config <oracle.yaml>]")
	fmt.Fprintln(w, "  walmarket-oracle hash [--digest] <file.json>")
	fmt.Fprintln(w, "  walmarket-oracle key init --name <name> [--scheme <s>] [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  walmarket-oracle key derive --from <name> --role <role> [--scheme <s>] [--force]")
	fmt.Fprintln(w, "  walmarket-oracle key pub --name <name> [--role <role>] [--scheme <s>]")
	fmt.Fprintln(w, "  walmarket-oracle key list")
	fmt.Fprintln(w, "  walmarket-oracle disclose --evidence <evidence.json> --market <id> --policy <policy.yaml> [--shares-out <file>]")
	fmt.Fprintln(w, "  walmarket-oracle reveal --package <package.json> --market <id> --policy <policy.yaml> --shares <shares.json>")
	fmt.Fprintln(w, "  walmarket-oracle archive export --config <oracle.yaml> --out <file.tar> [--label name=id ...] <blob-id>...")
	fmt.Fprintln(w, "  walmarket-oracle archive import --config <oracle.yaml> <file.tar>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - schemes: ecdsa-p256, ed25519, secp256k1, dilithium3")
	fmt.Fprintln(w, "  - local keys live under ~/.walmarket/keys/<name> (0600 seed files); a KMS key in the config takes precedence")
	fmt.Fprintln(w, "  - report prints the report JSON to stdout; verify prints OK or the failing rule")
	fmt.Fprintln(w, "  - hash prints the 0x-prefixed sha256 of the canonical JSON of the file")
	fmt.Fprintln(w, "  - WALMARKET_* variables and ./.env override the config file")
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
