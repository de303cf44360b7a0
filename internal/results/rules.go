package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// JoinRules returns the canonical encoding of a disabled-rule set: names are
// trimmed, deduplicated, sorted and joined with commas. An empty set is "".
func JoinRules(rules []string) string {
	seen := make(map[string]struct{}, len(rules))
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// SplitRules decodes a comma-joined rule list. "" yields nil.
func SplitRules(disabledRules string) []string {
	if disabledRules == "" {
		return nil
	}
	return strings.Split(disabledRules, ",")
}

// CanonicalRules rewrites a comma-joined rule list into its canonical form,
// so "b,a" and "a,b" name the same configuration.
func CanonicalRules(disabledRules string) string {
	return JoinRules(SplitRules(disabledRules))
}

// CountRules returns the number of rule names in a comma-joined list.
func CountRules(disabledRules string) int {
	if disabledRules == "" {
		return 0
	}
	return strings.Count(disabledRules, ",") + 1
}

// PlanHash returns a hex murmur3-128 digest of a query plan. Valid JSON is
// compacted first so formatting differences do not change the hash.
func PlanHash(plan []byte) string {
	data := plan
	var buf bytes.Buffer
	if json.Valid(plan) {
		if err := json.Compact(&buf, plan); err == nil {
			data = buf.Bytes()
		}
	}
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2)
}
