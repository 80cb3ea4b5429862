// Package filter implements the post-grouping filter chain: secret
// scanner, relevance filter, and syntax validator. Rejections always drop
// an entire SemanticGroup, never a sub-chunk, to preserve syntactic
// cohesion.
package filter

import (
	"math"
	"regexp"
	"strings"

	"github.com/codestory-dev/codestory/pkg/alg/bloom"
	"github.com/codestory-dev/codestory/pkg/model"
)

// SecretAggression controls how broadly the secret scanner searches.
type SecretAggression int

const (
	// AggressionNone disables the secret scanner entirely.
	AggressionNone SecretAggression = iota
	// AggressionSafe matches only unambiguous credential patterns.
	AggressionSafe
	// AggressionStandard adds common provider API-key patterns. Default.
	AggressionStandard
	// AggressionStrict additionally enables entropy-based detection.
	AggressionStrict
)

// ParseSecretAggression parses the --secret-scanner-aggression flag.
func ParseSecretAggression(s string) SecretAggression {
	switch s {
	case "none":
		return AggressionNone
	case "safe":
		return AggressionSafe
	case "strict":
		return AggressionStrict
	default:
		return AggressionStandard
	}
}

// secretPatterns is the built-in regex catalog, ordered from the narrowest
// (safe) to broadest (standard) matches.
var safePatterns = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |)PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)aws_secret_access_key\s*=\s*['"][A-Za-z0-9/+=]{40}['"]`),
}

var standardPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*['"][A-Za-z0-9_\-]{16,}['"]`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
}

// entropyThreshold is the minimum Shannon entropy (bits per character) for a
// candidate token to be treated as a high-entropy secret under strict mode.
const entropyThreshold = 4.0

// minEntropyTokenLen is the shortest token considered for entropy scanning.
const minEntropyTokenLen = 20

// SecretScanner detects likely secret literals introduced by a group's
// chunks, at a configurable aggression level.
type SecretScanner struct {
	aggression SecretAggression
	seen       *bloom.Filter
}

// NewSecretScanner constructs a scanner. seenCapacity sizes the bloom filter
// used to suppress duplicate report entries across groups sharing the exact
// same secret literal.
func NewSecretScanner(aggression SecretAggression, seenCapacity uint) *SecretScanner {
	filter, err := bloom.NewWithEstimates(seenCapacity, 0.01) //nolint:mnd // 1% false positive rate is an acceptable dedup cost
	if err != nil {
		filter = nil
	}

	return &SecretScanner{aggression: aggression, seen: filter}
}

// Scan reports the first secret literal found across the group's added
// lines, or ok=false if none was found.
func (s *SecretScanner) Scan(group *model.SemanticGroup) (match string, ok bool) {
	if s.aggression == AggressionNone {
		return "", false
	}

	patterns := safePatterns
	if s.aggression >= AggressionStandard {
		patterns = append(patterns, standardPatterns...)
	}

	for _, c := range group.Chunks {
		for _, line := range c.NewLines {
			for _, pat := range patterns {
				if loc := pat.FindString(line); loc != "" {
					if s.isDuplicate(loc) {
						continue
					}

					return loc, true
				}
			}

			if s.aggression == AggressionStrict {
				if tok, found := highEntropyToken(line); found && !s.isDuplicate(tok) {
					return tok, true
				}
			}
		}
	}

	return "", false
}

func (s *SecretScanner) isDuplicate(literal string) bool {
	if s.seen == nil {
		return false
	}

	return s.seen.TestAndAdd([]byte(literal))
}

// highEntropyToken scans a line for a contiguous run of non-whitespace
// characters whose Shannon entropy exceeds entropyThreshold.
func highEntropyToken(line string) (string, bool) {
	for _, field := range strings.Fields(line) {
		token := strings.Trim(field, `"',;`)
		if len(token) < minEntropyTokenLen {
			continue
		}

		if shannonEntropy(token) >= entropyThreshold {
			return token, true
		}
	}

	return "", false
}

func shannonEntropy(s string) float64 {
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}

	total := float64(len(s))

	var entropy float64

	for _, n := range counts {
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}

	return entropy
}
