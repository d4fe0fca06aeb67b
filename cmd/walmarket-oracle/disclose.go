package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/getwalmarket/walmarket/disclosure"
)

// readPolicy accepts YAML or JSON.
func readPolicy(path string) (disclosure.Policy, error) {
	var p disclosure.Policy
	b, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}
	return p, p.Validate()
}

func cmdDisclose(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("disclose", flag.ContinueOnError)
	fs.SetOutput(errOut)
	evidencePath := fs.String("evidence", "", "Full evidence JSON")
	market := fs.String("market", "", "Market id (encryption context)")
	policyPath := fs.String("policy", "", "Policy YAML or JSON")
	outPath := fs.String("out", "", "Write the package here instead of stdout")
	sharesOut := fs.String("shares-out", "", "Write the key shares here (0600)")
	blobID := fs.String("encrypted-blob-id", "", "If set, also emit the access policy transaction")
	publicBlobID := fs.String("public-blob-id", "", "Public summary blob id for the policy transaction")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *evidencePath == "" || *market == "" || *policyPath == "" {
		fmt.Fprintln(errOut, "disclose: --evidence, --market and --policy are required")
		return 2
	}
	if *sharesOut == "" {
		fmt.Fprintln(errOut, "disclose: --shares-out is required; shares are never printed")
		return 2
	}

	policy, err := readPolicy(*policyPath)
	if err != nil {
		reportFailure(errOut, "disclose", err)
		return 1
	}
	b, err := os.ReadFile(*evidencePath)
	if err != nil {
		fmt.Fprintf(errOut, "disclose: %v\n", err)
		return 1
	}
	ev := json.RawMessage(b)
	if !json.Valid(ev) {
		fmt.Fprintln(errOut, "disclose: evidence is not valid JSON")
		return 1
	}

	pkg, shares, err := disclosure.Encryptor{}.Encrypt(ev, *market, policy)
	if err != nil {
		reportFailure(errOut, "disclose", err)
		return 1
	}
	doc := map[string]any{"package": pkg}
	if *blobID != "" {
		public := *publicBlobID
		if public == "" {
			public = *blobID
		}
		doc["policy_tx"] = disclosure.AccessPolicyTx(*market, *blobID, public, policy)
	}

	if *outPath != "" {
		err = writeJSONFile(*outPath, doc, 0o644)
	} else {
		err = writeJSON(out, doc)
	}
	if err != nil {
		fmt.Fprintf(errOut, "disclose: write: %v\n", err)
		return 1
	}
	if err := writeJSONFile(*sharesOut, shares, 0o600); err != nil {
		fmt.Fprintf(errOut, "disclose: write shares: %v\n", err)
		return 1
	}
	return 0
}

func cmdReveal(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("reveal", flag.ContinueOnError)
	fs.SetOutput(errOut)
	pkgPath := fs.String("package", "", "Package JSON written by disclose or report")
	market := fs.String("market", "", "Market id (encryption context)")
	policyPath := fs.String("policy", "", "Policy YAML or JSON")
	sharesPath := fs.String("shares", "", "JSON array of key shares")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *pkgPath == "" || *market == "" || *policyPath == "" || *sharesPath == "" {
		fmt.Fprintln(errOut, "reveal: --package, --market, --policy and --shares are required")
		return 2
	}

	policy, err := readPolicy(*policyPath)
	if err != nil {
		reportFailure(errOut, "reveal", err)
		return 1
	}
	var doc struct {
		Package *disclosure.Package `json:"package"`
	}
	if err := readJSON(*pkgPath, &doc); err != nil {
		fmt.Fprintf(errOut, "reveal: read package: %v\n", err)
		return 1
	}
	var shares []disclosure.KeyShare
	if err := readJSON(*sharesPath, &shares); err != nil {
		fmt.Fprintf(errOut, "reveal: read shares: %v\n", err)
		return 1
	}

	ev, err := disclosure.Open(doc.Package, *market, policy, shares)
	if err != nil {
		reportFailure(errOut, "reveal", err)
		return 1
	}
	if err := writeJSON(out, ev); err != nil {
		fmt.Fprintf(errOut, "reveal: write: %v\n", err)
		return 1
	}
	return 0
}
