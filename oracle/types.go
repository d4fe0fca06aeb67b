// Package oracle holds the resolution report data model and the error
// taxonomy shared by the hashing, signing, validation and disclosure packages.
package oracle

// Task selects the value domain of a resolution.
type Task string

const (
	TaskBinary  Task = "binary"
	TaskNumeric Task = "numeric"
)

// Valid reports whether t is a known task.
func (t Task) Valid() bool {
	return t == TaskBinary || t == TaskNumeric
}

type Resolution struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Source struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	QuoteHash string `json:"quote_hash"`
}

// Controls pins the model, prompt, parser and schema that produced a report.
type Controls struct {
	ModelID    string `json:"model_id"`
	PromptHash string `json:"prompt_hash"`
	ParserHash string `json:"parser_hash"`
	SchemaHash string `json:"schema_hash"`
}

// Proof binds a report to its evidence and to the enclave key that signed it.
//
// Every field except EnclavePubKey, Signature and Attestation is an input of
// the report digest.
type Proof struct {
	EnclaveID     string `json:"enclave_id"`
	EnclavePubKey string `json:"enclave_pubkey"`
	MREnclave     string `json:"mrenclave"`
	Signature     string `json:"sig"`
	Attestation   string `json:"attestation"`
	Timestamp     int64  `json:"timestamp"`
	Nonce         string `json:"nonce"`
	HIn           string `json:"h_in"`
	HOut          string `json:"h_out"`
	BlobID        string `json:"blob_id"`
	BlobHash      string `json:"blob_hash"`
}

// Report is the resolution document submitted on-chain.
type Report struct {
	Round      uint64     `json:"round"`
	Task       Task       `json:"task"`
	Resolution Resolution `json:"resolution"`
	Sources    []Source   `json:"sources"`
	Rationale  string     `json:"rationale"`
	Controls   Controls   `json:"controls"`
	Proof      Proof      `json:"tee_proof"`
}

// InferenceOutput is the structured answer an inference provider returns.
type InferenceOutput struct {
	Resolution Resolution `json:"resolution"`
	Sources    []Source   `json:"sources"`
	Rationale  string     `json:"rationale"`
}
