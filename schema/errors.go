package schema

import (
	"sort"
	"strings"

	"github.com/getwalmarket/walmarket/oracle"
)

// Errors lists every violation found in a document, ordered by report section.
type Errors []*oracle.Error

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, err := range e {
		parts = append(parts, err.Error())
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

func (e Errors) Unwrap() []error {
	out := make([]error, 0, len(e))
	for _, err := range e {
		out = append(out, err)
	}
	return out
}

// Has reports whether any violation has the given reason at field.
func (e Errors) Has(reason oracle.Reason, field string) bool {
	for _, err := range e {
		if err.Reason == reason && err.Field == field {
			return true
		}
	}
	return false
}

var ruleIDs = map[oracle.Reason]string{
	oracle.ReasonMissingField: "ORACLE-VAL-001",
	oracle.ReasonInvalidType:  "ORACLE-VAL-002",
	oracle.ReasonInvalidEnum:  "ORACLE-VAL-003",
	oracle.ReasonOutOfRange:   "ORACLE-VAL-004",
	oracle.ReasonEmpty:        "ORACLE-VAL-005",
	oracle.ReasonMalformed:    "ORACLE-VAL-006",
}

var sectionRanks = map[string]int{
	"round":     1,
	"task":      2,
	"sources":   5,
	"rationale": 6,
	"controls":  7,
	"tee_proof": 8,
}

// rank orders errors as: missing top-level fields, task, confidence, value,
// sources, rationale, controls, tee_proof.
func rank(e *oracle.Error) int {
	if e.Reason == oracle.ReasonMissingField && !strings.Contains(e.Field, ".") {
		return 0
	}
	switch {
	case e.Field == "resolution.value" || strings.HasPrefix(e.Field, "resolution.value."):
		return 4
	case e.Field == "resolution" || strings.HasPrefix(e.Field, "resolution."):
		return 3
	}
	top, _, _ := strings.Cut(e.Field, ".")
	if r, ok := sectionRanks[top]; ok {
		return r
	}
	return 9
}

func sortErrors(errs Errors) {
	sort.SliceStable(errs, func(i, j int) bool {
		ri, rj := rank(errs[i]), rank(errs[j])
		if ri != rj {
			return ri < rj
		}
		return errs[i].Field < errs[j].Field
	})
}
