package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/oracle"
)

const seedHex = "0303030303030303030303030303030303030303030303030303030303030303"

const answer = `{"resolution":{"value":1,"confidence":0.9},"sources":[{"id":"cmc:btc","url":"https://coinmarketcap.com/currencies/bitcoin/","quote_hash":"0x01"}],"rationale":"Every source reports BTC above the threshold."}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

// offlineConfig writes an oracle.yaml using the static provider and a
// local blob directory.
func offlineConfig(t *testing.T, dir string, disclosure bool) string {
	t.Helper()
	static := writeFile(t, dir, "answer.json", answer)
	cfg := `logging:
  level: error
enclave:
  id: enclave-test
  mrenclave: "0xdef456"
signer:
  scheme: ed25519
  seed_hex: "` + seedHex + `"
inference:
  provider: static
  model: gpt-fixture
  static_file: ` + static + `
storage:
  backends:
    - type: localfs
      dir: ` + filepath.Join(dir, "blobs") + `
verify_upload: true
`
	if disclosure {
		cfg += `disclosure:
  enabled: true
  policy:
    policy_id: policy-1
    package_id: "0xpkg"
    threshold: 2
    key_servers: [ks-a, ks-b, ks-c]
`
	}
	return writeFile(t, dir, "oracle.yaml", cfg)
}

func trustedPub(t *testing.T) string {
	t.Helper()
	seed, err := keys.ParseSeedHex(seedHex)
	if err != nil {
		t.Fatalf("ParseSeedHex: %v", err)
	}
	return canon.FormatHex(keys.NewEd25519Signer(seed).PublicKey())
}

func generateReport(t *testing.T, dir string, extra ...string) string {
	t.Helper()
	reportPath := filepath.Join(dir, "report.json")
	args := append([]string{"report",
		"--config", filepath.Join(dir, "oracle.yaml"),
		"--market", "0xmarket123",
		"--question", "Will BTC reach $100k by end of 2024?",
		"--criteria", "Resolves YES if BTC trades at $100,000.",
		"--category", "crypto",
		"--out", reportPath,
	}, extra...)
	code, _, stderr := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("report exit %d: %s", code, stderr)
	}
	return reportPath
}

func TestUsage(t *testing.T) {
	if code, _, _ := runCLI(t); code != 2 {
		t.Fatalf("no args: expected exit 2, got %d", code)
	}
	if code, _, stderr := runCLI(t, "bogus"); code != 2 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("unknown command: exit %d, stderr %q", code, stderr)
	}
	if code, out, _ := runCLI(t, "help"); code != 0 || !strings.Contains(out, "walmarket-oracle report") {
		t.Fatalf("help: exit %d, out %q", code, out)
	}
	if code, _, _ := runCLI(t, "report", "--market", "m"); code != 2 {
		t.Fatalf("report without question: expected exit 2, got %d", code)
	}
}

func TestReportVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfgPath := offlineConfig(t, dir, false)
	reportPath := generateReport(t, dir)

	var report oracle.Report
	if err := readJSON(reportPath, &report); err != nil {
		t.Fatalf("read report: %v", err)
	}
	if report.Task != oracle.TaskBinary || report.Controls.ModelID != "gpt-fixture" {
		t.Fatalf("unexpected report: %+v", report)
	}

	code, out, stderr := runCLI(t, "verify",
		"--report", reportPath,
		"--scheme", "ed25519",
		"--pubkey", trustedPub(t),
		"--enclave-id", "enclave-test",
		"--mrenclave", "0xdef456",
		"--config", cfgPath,
		"--fetch-evidence",
	)
	if code != 0 || strings.TrimSpace(out) != "OK" {
		t.Fatalf("verify exit %d, out %q, stderr %q", code, out, stderr)
	}

	code, _, stderr = runCLI(t, "verify", "--report", reportPath, "--pubkey", trustedPub(t), "--mrenclave", "0xother")
	if code != 1 || !strings.Contains(stderr, "ORACLE-PROOF-028") {
		t.Fatalf("expected mrenclave rejection, exit %d stderr %q", code, stderr)
	}

	code, _, stderr = runCLI(t, "verify", "--report", reportPath, "--pubkey", trustedPub(t), "--now", "1")
	if code != 1 || !strings.Contains(stderr, "ORACLE-PROOF-030") {
		t.Fatalf("expected skew rejection, exit %d stderr %q", code, stderr)
	}
}

func TestVerifyRejectsTamperedReport(t *testing.T) {
	dir := t.TempDir()
	offlineConfig(t, dir, false)
	reportPath := generateReport(t, dir)

	var doc map[string]any
	if err := readJSON(reportPath, &doc); err != nil {
		t.Fatalf("read report: %v", err)
	}
	doc["tee_proof"].(map[string]any)["blob_hash"] = "0x" + strings.Repeat("0", 64)
	tampered := filepath.Join(dir, "tampered.json")
	if err := writeJSONFile(tampered, doc, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, _, stderr := runCLI(t, "verify", "--report", tampered, "--pubkey", trustedPub(t))
	if code != 1 || !strings.Contains(stderr, string(oracle.KindSignatureInvalid)) {
		t.Fatalf("expected signature failure, exit %d stderr %q", code, stderr)
	}
}

func TestHash(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", `{"b":2,"a":[1.0,"x"]}`)
	b := writeFile(t, dir, "b.json", `{ "a": [1, "x"], "b": 2 }`)

	_, ha, _ := runCLI(t, "hash", a)
	_, hb, _ := runCLI(t, "hash", b)
	if ha != hb || !canon.IsHex256(strings.TrimSpace(ha)) {
		t.Fatalf("hashes differ or malformed: %q vs %q", ha, hb)
	}

	offlineConfig(t, dir, false)
	reportPath := generateReport(t, dir)
	code, out, stderr := runCLI(t, "hash", "--digest", reportPath)
	if code != 0 || !canon.IsHex256(strings.TrimSpace(out)) {
		t.Fatalf("hash --digest exit %d out %q stderr %q", code, out, stderr)
	}
	if code, _, _ := runCLI(t, "hash"); code != 2 {
		t.Fatalf("hash without file: expected exit 2, got %d", code)
	}
}

func TestKeyCommands(t *testing.T) {
	dir := t.TempDir()
	code, out, stderr := runCLI(t, "key", "init", "--key-dir", dir, "--name", "oracle", "--seed-hex", seedHex)
	if code != 0 || !strings.Contains(out, "ed25519:0x") {
		t.Fatalf("key init exit %d out %q stderr %q", code, out, stderr)
	}
	if code, _, _ := runCLI(t, "key", "init", "--key-dir", dir, "--name", "oracle"); code != 1 {
		t.Fatalf("re-init without --force: expected exit 1, got %d", code)
	}
	if code, _, stderr := runCLI(t, "key", "derive", "--key-dir", dir, "--from", "oracle", "--role", "auditor", "--scheme", "secp256k1"); code != 0 {
		t.Fatalf("key derive exit %d stderr %q", code, stderr)
	}

	_, pub, _ := runCLI(t, "key", "pub", "--key-dir", dir, "--name", "oracle")
	if strings.TrimSpace(pub) != trustedPub(t) {
		t.Fatalf("key pub = %q, want %q", pub, trustedPub(t))
	}

	_, list, _ := runCLI(t, "key", "list", "--key-dir", dir)
	if !strings.Contains(list, "oracle") || !strings.Contains(list, "- auditor") {
		t.Fatalf("key list = %q", list)
	}
	if code, _, _ := runCLI(t, "key", "init", "--key-dir", dir, "--name", "../escape"); code != 2 {
		t.Fatalf("bad key name: expected exit 2, got %d", code)
	}
}

func TestReportDisclosureAndReveal(t *testing.T) {
	dir := t.TempDir()
	offlineConfig(t, dir, true)
	pkgPath := filepath.Join(dir, "disclosure.json")
	sharesPath := filepath.Join(dir, "shares.json")
	generateReport(t, dir, "--disclosure-out", pkgPath, "--shares-out", sharesPath)

	var shares []json.RawMessage
	if err := readJSON(sharesPath, &shares); err != nil || len(shares) != 3 {
		t.Fatalf("shares: %v (%d)", err, len(shares))
	}
	two := writeFile(t, dir, "two.json", "["+string(shares[0])+","+string(shares[2])+"]")
	one := writeFile(t, dir, "one.json", "["+string(shares[1])+"]")
	policy := writeFile(t, dir, "policy.yaml", "policy_id: policy-1\npackage_id: \"0xpkg\"\nthreshold: 2\nkey_servers: [ks-a, ks-b, ks-c]\n")

	code, out, stderr := runCLI(t, "reveal", "--package", pkgPath, "--market", "0xmarket123", "--policy", policy, "--shares", two)
	if code != 0 {
		t.Fatalf("reveal exit %d stderr %q", code, stderr)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(out), &ev); err != nil {
		t.Fatalf("revealed evidence: %v", err)
	}
	if ev["outcome"] != "YES" || ev["market_id"] != "0xmarket123" {
		t.Fatalf("unexpected evidence: %v", ev)
	}

	code, _, stderr = runCLI(t, "reveal", "--package", pkgPath, "--market", "0xmarket123", "--policy", policy, "--shares", one)
	if code != 1 || !strings.Contains(stderr, string(oracle.KindEncryptionPolicyViolation)) {
		t.Fatalf("single share: exit %d stderr %q", code, stderr)
	}
	code, _, _ = runCLI(t, "reveal", "--package", pkgPath, "--market", "0xother", "--policy", policy, "--shares", two)
	if code != 1 {
		t.Fatalf("wrong market: expected exit 1, got %d", code)
	}
}

func TestReportDisclosureRequiresSharesOut(t *testing.T) {
	dir := t.TempDir()
	offlineConfig(t, dir, true)
	reportPath := filepath.Join(dir, "report.json")
	code, _, stderr := runCLI(t, "report",
		"--config", filepath.Join(dir, "oracle.yaml"),
		"--market", "0xmarket123",
		"--question", "Will BTC reach $100k by end of 2024?",
		"--criteria", "Resolves YES if BTC trades at $100,000.",
		"--category", "crypto",
		"--out", reportPath,
		"--disclosure-out", filepath.Join(dir, "disclosure.json"),
	)
	if code != 2 || !strings.Contains(stderr, "--shares-out") {
		t.Fatalf("expected exit 2 naming --shares-out, got %d %q", code, stderr)
	}
	if _, err := os.Stat(reportPath); !os.IsNotExist(err) {
		t.Fatalf("report must not be written, stat err=%v", err)
	}
}

func TestDiscloseStandalone(t *testing.T) {
	dir := t.TempDir()
	evPath := writeFile(t, dir, "evidence.json", `{"outcome":"NO","resolution_date":"2024-12-31T00:00:00Z","reasoning":"secret"}`)
	policy := writeFile(t, dir, "policy.json", `{"policy_id":"p","package_id":"0xpkg","threshold":1,"key_servers":["ks-a"]}`)
	sharesPath := filepath.Join(dir, "shares.json")

	code, out, stderr := runCLI(t, "disclose", "--evidence", evPath, "--market", "m-1", "--policy", policy,
		"--shares-out", sharesPath, "--encrypted-blob-id", "blob-enc")
	if code != 0 {
		t.Fatalf("disclose exit %d stderr %q", code, stderr)
	}
	if strings.Contains(out, "secret") {
		t.Fatalf("package leaks premium reasoning: %s", out)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode package: %v", err)
	}
	if _, ok := doc["policy_tx"]; !ok {
		t.Fatalf("policy_tx missing: %v", doc)
	}
	pkgPath := writeFile(t, dir, "package.json", out)
	code, out, stderr = runCLI(t, "reveal", "--package", pkgPath, "--market", "m-1", "--policy", policy, "--shares", sharesPath)
	if code != 0 || !strings.Contains(out, "secret") {
		t.Fatalf("reveal exit %d out %q stderr %q", code, out, stderr)
	}

	if code, _, _ := runCLI(t, "disclose", "--evidence", evPath, "--market", "m-1", "--policy", policy); code != 2 {
		t.Fatalf("disclose without --shares-out: expected exit 2, got %d", code)
	}
}

func TestArchiveExportImport(t *testing.T) {
	dir := t.TempDir()
	offlineConfig(t, dir, false)
	reportPath := generateReport(t, dir)
	tarPath := filepath.Join(dir, "evidence.tar")
	var report oracle.Report
	if err := readJSON(reportPath, &report); err != nil {
		t.Fatalf("read report: %v", err)
	}

	code, _, stderr := runCLI(t, "archive", "export", "--config", filepath.Join(dir, "oracle.yaml"),
		"--out", tarPath, "--report", reportPath, "--label", "0xmarket123="+report.Proof.BlobID)
	if code != 0 {
		t.Fatalf("export exit %d stderr %q", code, stderr)
	}
	if code, _, _ := runCLI(t, "archive", "export", "--config", filepath.Join(dir, "oracle.yaml"),
		"--out", filepath.Join(dir, "bad.tar"), "--label", "nolabel", report.Proof.BlobID); code != 2 {
		t.Fatalf("malformed --label: expected exit 2, got %d", code)
	}

	other := t.TempDir()
	otherCfg := writeFile(t, other, "oracle.yaml", "storage:\n  backends:\n    - type: localfs\n      dir: "+filepath.Join(other, "blobs")+"\n")
	code, out, stderr := runCLI(t, "archive", "import", "--config", otherCfg, tarPath)
	if code != 0 {
		t.Fatalf("import exit %d stderr %q", code, stderr)
	}
	if strings.TrimSpace(out) != report.Proof.BlobID {
		t.Fatalf("imported %q, want %q", out, report.Proof.BlobID)
	}
}
