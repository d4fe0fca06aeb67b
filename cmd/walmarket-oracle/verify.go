package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/getwalmarket/walmarket/attest"
	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/config"
	"github.com/getwalmarket/walmarket/evidence"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/oracle"
	"github.com/getwalmarket/walmarket/schema"
)

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	reportPath := fs.String("report", "", "Report JSON")
	schemeName := fs.String("scheme", string(keys.SchemeEd25519), "Trusted key scheme")
	pubHex := fs.String("pubkey", "", "Trusted enclave public key (0x hex)")
	enclaveID := fs.String("enclave-id", "", "Expected enclave id")
	mrenclave := fs.String("mrenclave", "", "Expected mrenclave")
	maxSkew := fs.Duration("max-skew", attest.DefaultMaxSkew, "Allowed clock skew")
	nowUnix := fs.Int64("now", 0, "Verify as of this unix time (default: current time)")
	requireHW := fs.Bool("require-hardware", false, "Reject simulated attestations")
	configPath := fs.String("config", "", "oracle.yaml supplying storage and replay backends")
	fetch := fs.Bool("fetch-evidence", false, "Fetch the evidence blob from the configured storage and check its hash")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *reportPath == "" || *pubHex == "" {
		fmt.Fprintln(errOut, "verify: --report and --pubkey are required")
		return 2
	}
	scheme, err := keys.ParseScheme(*schemeName)
	if err != nil {
		fmt.Fprintf(errOut, "verify: invalid --scheme: %v\n", err)
		return 2
	}
	pub, err := canon.ParseHex(*pubHex)
	if err != nil {
		fmt.Fprintf(errOut, "verify: invalid --pubkey: %v\n", err)
		return 2
	}
	if *fetch && *configPath == "" {
		fmt.Fprintln(errOut, "verify: --fetch-evidence needs --config")
		return 2
	}

	raw, err := os.ReadFile(*reportPath)
	if err != nil {
		fmt.Fprintf(errOut, "verify: %v\n", err)
		return 1
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(errOut, "verify: parse report: %v\n", err)
		return 1
	}
	validator, err := schema.New()
	if err != nil {
		fmt.Fprintf(errOut, "verify: schema: %v\n", err)
		return 1
	}
	if err := validator.ValidateReport(doc); err != nil {
		reportFailure(errOut, "verify", err)
		return 1
	}
	var report oracle.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		fmt.Fprintf(errOut, "verify: decode report: %v\n", err)
		return 1
	}

	ctx := context.Background()
	var cl closers
	defer cl.Close()

	v := &attest.Verifier{
		Scheme:          scheme,
		PublicKey:       pub,
		EnclaveID:       *enclaveID,
		MREnclave:       *mrenclave,
		MaxSkew:         *maxSkew,
		RequireHardware: *requireHW,
	}
	if *nowUnix != 0 {
		at := time.Unix(*nowUnix, 0)
		v.Clock = func() time.Time { return at }
	}

	var cfg config.Config
	if *configPath != "" {
		cfg, err = config.Read(*configPath, ".env")
		if err != nil {
			fmt.Fprintf(errOut, "verify: %v\n", err)
			return 1
		}
		replay, closeReplay := newReplay(cfg.Replay)
		cl.add(closeReplay)
		v.Replay = replay
	}

	if err := v.Verify(ctx, &report.Proof); err != nil {
		reportFailure(errOut, "verify", err)
		return 1
	}

	if *fetch {
		store, closeStore, err := cfg.Storage.Open(ctx)
		if err != nil {
			fmt.Fprintf(errOut, "verify: storage: %v\n", err)
			return 1
		}
		cl.add(closeStore)
		if err := evidence.Verify(ctx, report.Proof.BlobID, report.Proof.BlobHash, store.Get); err != nil {
			reportFailure(errOut, "verify", err)
			return 1
		}
	}

	fmt.Fprintln(out, "OK")
	return 0
}
