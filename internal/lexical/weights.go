package lexical

// RiskWeights maps lexical indicators to their contribution weights.
// These are documented heuristics, not learned parameters; tune with care
// because the acceptance tests pin several of them.
var RiskWeights = map[string]float64{
	"has_ip_address":            0.7,
	"has_at_symbol":             0.6,
	"has_double_slash_redirect": 0.5,
	"has_common_typos":          0.8,
	"special_chars_count":       0.01,   // per character
	"url_encoded_chars":         0.03,   // per character
	"has_security_keywords":     0.15,   // per keyword
	"has_login_keywords":        0.1,    // per keyword
	"subdomain_count":           0.1,    // per subdomain beyond the first
	"url_length":                0.001,  // per character beyond 50
	"digits_in_domain":          0.05,   // per digit
	"domain_age_days":           -0.0005, // negative weight, older is safer
}

// MaxConfidence caps the lexical score. The analyzer never claims absolute
// certainty from URL structure alone.
const MaxConfidence = 0.95

// DomainAgeCapDays limits how much credit an old domain earns.
const DomainAgeCapDays = 730

// LongURLThreshold is the length beyond which each character adds risk.
const LongURLThreshold = 50

// SeverityForIndicator returns a coarse severity label for an indicator.
func SeverityForIndicator(name string) string {
	switch name {
	case "has_ip_address",
		"has_common_typos",
		"has_at_symbol":
		return "high"

	case "has_double_slash_redirect",
		"has_security_keywords",
		"has_login_keywords",
		"subdomain_count":
		return "medium"

	default:
		return "low"
	}
}

// DescribeIndicator returns a short human-readable explanation of an indicator.
func DescribeIndicator(name string) string {
	switch name {
	case "url_length":
		return "Total length of the URL in characters"
	case "has_https":
		return "URL uses the https scheme"
	case "has_www":
		return "Host starts with www."
	case "subdomain_count":
		return "Number of subdomain labels in the host"
	case "domain_length":
		return "Length of the registrable domain label"
	case "tld_length":
		return "Length of the public suffix"
	case "path_length":
		return "Length of the URL path"
	case "query_length":
		return "Length of the query string"
	case "fragment_length":
		return "Length of the URL fragment"
	case "digits_in_domain":
		return "Digits inside the domain label (often substituted letters)"
	case "special_chars_count":
		return "Characters outside [a-z0-9.-_] in the authority"
	case "hyphens_in_domain":
		return "Hyphens in the host"
	case "dots_in_domain":
		return "Dots in the host"
	case "has_ip_address":
		return "Host is a literal IP address instead of a domain name"
	case "has_at_symbol":
		return "Authority contains '@', often used to disguise the real target"
	case "has_double_slash_redirect":
		return "Path contains '//', can be used for open redirects"
	case "query_param_count":
		return "Number of query parameters"
	case "url_encoded_chars":
		return "Percent-encoded characters that can hide the true URL"
	case "has_security_keywords":
		return "Security-themed keywords (secure/verify/banking...) in the URL"
	case "has_login_keywords":
		return "Login-themed keywords (login/signin/password...) in the URL"
	case "has_common_typos":
		return "Domain is an edit-distance near-match of a well-known brand"
	case "domain_age_days":
		return "Age of the registrable domain in days (-1 when unknown)"
	default:
		return name
	}
}
