package disclosure

import (
	"bytes"
	"encoding/json"
)

// SummaryKeys is the complete set of keys a public summary may contain.
var SummaryKeys = []string{
	"market_id",
	"outcome",
	"resolution_date",
	"oracle_version",
	"evidence_type",
	"premium_available",
	"message",
}

const (
	defaultOracleVersion = "1.0"
	summaryMessage       = "Full reasoning and sources available for premium subscribers"
)

// Summary projects the public fields out of evidence JSON. Fields
// outside SummaryKeys never appear, whatever the evidence contains.
func Summary(evidenceJSON []byte, contextID string) map[string]any {
	var ev map[string]any
	dec := json.NewDecoder(bytes.NewReader(evidenceJSON))
	dec.UseNumber()
	_ = dec.Decode(&ev)

	version := any(defaultOracleVersion)
	if att, ok := ev["tee_attestation"].(map[string]any); ok {
		if v, ok := scalar(att["version"]); ok && v != nil {
			version = v
		}
	}
	outcome, _ := scalar(ev["outcome"])
	date, _ := scalar(ev["resolution_date"])

	return map[string]any{
		"market_id":         contextID,
		"outcome":           outcome,
		"resolution_date":   date,
		"oracle_version":    version,
		"evidence_type":     "public_summary",
		"premium_available": true,
		"message":           summaryMessage,
	}
}

func scalar(v any) (any, bool) {
	switch v.(type) {
	case nil, string, bool, json.Number, float64:
		return v, true
	default:
		return nil, false
	}
}
