package lexical

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// brandDomains is the curated table of high-value brand names that
// typosquatters commonly imitate.
var brandDomains = []string{
	"google", "microsoft", "amazon", "apple", "facebook", "twitter",
	"paypal", "netflix", "yahoo", "ebay", "instagram", "linkedin",
	"whatsapp", "gmail", "outlook", "chase", "wellsfargo",
}

// digitSubstitutions are the classic lookalike replacements (1 for l, 0 for
// o, ...). A domain carrying one of these near a brand match is treated as a
// squat even at edit distance zero after normalization.
var digitSubstitutions = strings.NewReplacer(
	"0", "o",
	"1", "l",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"8", "b",
	"9", "g",
)

var dmp = diffmatchpatch.New()

// IsTyposquat reports whether domain (the registrable label, without suffix)
// looks like a near-match of a known brand. Exact brand matches are not
// squats; lookalikes within edit distance 2, digit-substituted variants and
// brand-plus-padding names are.
func IsTyposquat(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return false
	}

	normalized := digitSubstitutions.Replace(d)

	for _, brand := range brandDomains {
		if d == brand {
			return false
		}

		// Digit-substituted spelling of the brand itself, e.g. paypa1.
		if normalized == brand && d != brand {
			return true
		}

		// Brand embedded with a couple of extra characters, e.g. paypall,
		// secure-paypal is handled by keyword scoring instead.
		if strings.Contains(d, brand) && len(d) <= len(brand)+2 {
			return true
		}

		// Near-miss spellings within edit distance 2, length permitting.
		// Short brand names only tolerate distance 1 to avoid false hits.
		maxDist := 2
		if len(brand) <= 5 {
			maxDist = 1
		}
		if editDistance(d, brand) <= maxDist {
			return true
		}
		if normalized != d && editDistance(normalized, brand) <= maxDist {
			return true
		}
	}
	return false
}

// editDistance computes Levenshtein distance via the diff library.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffLevenshtein(diffs)
}
