package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/getwalmarket/walmarket/oracle"
)

// document is a decoded JSON document plus the task governing its value domain.
type document struct {
	task oracle.Task
	root map[string]any
}

// Rule is an explicit, named semantic rule applied after structural checks.
//
// ID must be stable across versions.
// Apply must be deterministic and side-effect free.
type Rule struct {
	ID    string
	Apply func(*document) *oracle.Error
}

// semanticRules run in order; their order is the reporting order within a section.
var semanticRules = []Rule{
	{ID: "ORACLE-VAL-101", Apply: binaryValueDomain},
	{ID: "ORACLE-VAL-102", Apply: finiteValue},
}

func applyRules(d *document, rules []Rule) Errors {
	var out Errors
	for _, r := range rules {
		if r.Apply == nil {
			continue
		}
		if err := r.Apply(d); err != nil {
			err.RuleID = r.ID
			out = append(out, err)
		}
	}
	return out
}

func resolutionValue(d *document) (float64, bool) {
	res, ok := d.root["resolution"].(map[string]any)
	if !ok {
		return 0, false
	}
	n, ok := res["value"].(json.Number)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return math.Inf(1), true
	}
	return f, true
}

func binaryValueDomain(d *document) *oracle.Error {
	if d.task != oracle.TaskBinary {
		return nil
	}
	v, ok := resolutionValue(d)
	if !ok || v == 0 || v == 1 {
		return nil
	}
	return oracle.FieldError("", oracle.ReasonOutOfRange, "resolution.value", fmt.Sprintf("binary value must be 0 or 1, got %v", v))
}

func finiteValue(d *document) *oracle.Error {
	v, ok := resolutionValue(d)
	if !ok || !math.IsInf(v, 0) {
		return nil
	}
	return oracle.FieldError("", oracle.ReasonOutOfRange, "resolution.value", "value must be finite")
}
