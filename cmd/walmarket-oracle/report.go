package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/getwalmarket/walmarket/attest"
	"github.com/getwalmarket/walmarket/inference"
	"github.com/getwalmarket/walmarket/oracle"
	"github.com/getwalmarket/walmarket/reporter"
	"github.com/getwalmarket/walmarket/schema"
)

func cmdReport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Path to oracle.yaml")
	market := fs.String("market", "", "Market id")
	question := fs.String("question", "", "Market question")
	criteria := fs.String("criteria", "", "Resolution criteria")
	category := fs.String("category", "", "Market category")
	round := fs.Uint64("round", 1, "Resolution round")
	task := fs.String("task", string(oracle.TaskBinary), "binary|numeric")
	sourcesPath := fs.String("sources", "", "Path to a JSON array of {id,url,data} sources")
	outPath := fs.String("out", "", "Write the report here instead of stdout")
	disclosureOut := fs.String("disclosure-out", "", "Write the disclosure package and policy transaction here")
	sharesOut := fs.String("shares-out", "", "Write the key shares here (0600)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *market == "" || *question == "" || *criteria == "" {
		fmt.Fprintln(errOut, "report: --market, --question and --criteria are required")
		return 2
	}

	var sources []inference.Source
	if *sourcesPath != "" {
		if err := readJSON(*sourcesPath, &sources); err != nil {
			fmt.Fprintf(errOut, "report: read sources: %v\n", err)
			return 1
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "report: %v\n", err)
		return 1
	}
	if cfg.Disclosure.Enabled && *sharesOut == "" {
		fmt.Fprintln(errOut, "report: disclosure is enabled; --shares-out is required")
		return 2
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "report: logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var cl closers
	defer cl.Close()

	signer, closeSigner, err := openSigner(ctx, cfg.Signer)
	if err != nil {
		fmt.Fprintf(errOut, "report: signer: %v\n", err)
		return 1
	}
	cl.add(closeSigner)

	store, closeStore, err := cfg.Storage.Open(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "report: storage: %v\n", err)
		return 1
	}
	cl.add(closeStore)

	provider, err := newProvider(cfg.Inference, logger)
	if err != nil {
		fmt.Fprintf(errOut, "report: inference: %v\n", err)
		return 1
	}
	validator, err := schema.New()
	if err != nil {
		fmt.Fprintf(errOut, "report: schema: %v\n", err)
		return 1
	}

	r := &reporter.Reporter{
		Provider: provider,
		Store:    store,
		Builder: &attest.Builder{
			EnclaveID: cfg.Enclave.ID,
			MREnclave: cfg.Enclave.MREnclave,
			Signer:    signer,
			Hardware:  cfg.Enclave.Hardware,
			Logger:    logger,
		},
		Validator:    validator,
		VerifyUpload: cfg.VerifyUpload,
		Logger:       logger,
	}
	if cfg.Disclosure.Enabled {
		p := cfg.Disclosure.Policy
		r.Policy = &p
	}

	res, err := r.Generate(ctx, reporter.Request{
		MarketID: *market,
		Question: *question,
		Category: *category,
		Criteria: *criteria,
		Round:    *round,
		Task:     oracle.Task(*task),
		Sources:  sources,
	})
	if err != nil {
		reportFailure(errOut, "report", err)
		return 1
	}
	logger.Debug("report written", zap.String("attempt_id", res.AttemptID))

	// Disclosure material is written before the report.
	if res.Disclosure != nil {
		if *disclosureOut != "" {
			doc := map[string]any{"package": res.Disclosure.Package, "policy_tx": res.Disclosure.PolicyTx}
			if err := writeJSONFile(*disclosureOut, doc, 0o644); err != nil {
				fmt.Fprintf(errOut, "report: write disclosure: %v\n", err)
				return 1
			}
		}
		if err := writeJSONFile(*sharesOut, res.Disclosure.Shares, 0o600); err != nil {
			fmt.Fprintf(errOut, "report: write shares: %v\n", err)
			return 1
		}
	}

	if *outPath != "" {
		err = writeJSONFile(*outPath, res.Report, 0o644)
	} else {
		err = writeJSON(out, res.Report)
	}
	if err != nil {
		fmt.Fprintf(errOut, "report: write: %v\n", err)
		return 1
	}
	return 0
}

// reportFailure prints the typed failure when there is one so that callers
// can branch on the kind and code.
func reportFailure(errOut io.Writer, cmd string, err error) {
	var se schema.Errors
	if errors.As(err, &se) {
		fmt.Fprintf(errOut, "%s: %d validation errors\n", cmd, len(se))
		for _, e := range se {
			fmt.Fprintf(errOut, "  %v\n", e)
		}
		return
	}
	if kind := oracle.KindOf(err); kind != "" {
		fmt.Fprintf(errOut, "%s: %s %s: %v\n", cmd, kind, oracle.RuleID(err), err)
		return
	}
	fmt.Fprintf(errOut, "%s: %v\n", cmd, err)
}
