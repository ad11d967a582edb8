package model

import "strings"

// FailureCategory buckets transport and pipeline failures into the fixed
// user-facing taxonomy. Categories are derived by substring matching on the
// underlying error text, mirroring how the errors surface from net/http and
// the dialer.
type FailureCategory string

const (
	FailureNone       FailureCategory = ""
	FailureDNS        FailureCategory = "dns_resolution"
	FailureTimeout    FailureCategory = "connection_timeout"
	FailureRefused    FailureCategory = "connection_refused"
	FailureTLS        FailureCategory = "ssl_error"
	FailureHTTPStatus FailureCategory = "http_error"
	FailureBadURL     FailureCategory = "malformed_url"
	FailureGeneric    FailureCategory = "generic"
)

// Explanation pairs a failure category with human-readable guidance.
type Explanation struct {
	Category   FailureCategory `json:"category"`
	Reason     string          `json:"reason"`
	Detail     string          `json:"explanation"`
	Causes     []string        `json:"possible_causes,omitempty"`
	UserAction string          `json:"user_action,omitempty"`
}

// ClassifyError maps raw error text to a FailureCategory. Matching order
// matters: DNS errors often mention "lookup", timeouts mention "deadline",
// and generic is the fallback.
func ClassifyError(msg string) FailureCategory {
	if msg == "" {
		return FailureNone
	}
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, "no such host", "name resolution", "dns", "lookup ", "server misbehaving"):
		return FailureDNS
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return FailureTimeout
	case containsAny(lower, "connection refused", "refused"):
		return FailureRefused
	case containsAny(lower, "tls", "ssl", "certificate", "x509"):
		return FailureTLS
	case containsAny(lower, "http error", "status 4", "status 5", "unexpected status"):
		return FailureHTTPStatus
	case containsAny(lower, "invalid url", "malformed", "missing protocol scheme", "unsupported protocol scheme", "invalid uri"):
		return FailureBadURL
	default:
		return FailureGeneric
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Explain returns the catalog entry for a category. Unrecognized categories
// fall back to the generic explanation.
func Explain(cat FailureCategory) *Explanation {
	if e, ok := explanations[cat]; ok {
		out := e
		return &out
	}
	out := explanations[FailureGeneric]
	return &out
}

var explanations = map[FailureCategory]Explanation{
	FailureDNS: {
		Category: FailureDNS,
		Reason:   "Domain Resolution Failed",
		Detail:   "The domain name could not be found or resolved.",
		Causes: []string{
			"Domain has expired or been taken down",
			"Domain is blocked by security filters",
			"Potentially malicious domain that has been sinkholed",
		},
		UserAction: "Double-check the URL for typos. If correct, this domain may be suspicious or no longer active.",
	},
	FailureTimeout: {
		Category: FailureTimeout,
		Reason:   "Connection Timeout",
		Detail:   "The website did not respond within the allowed time.",
		Causes: []string{
			"Server is overloaded or down",
			"Website is blocking automated requests",
			"Slow or unreliable hosting",
		},
		UserAction: "Try accessing the website directly in your browser to verify if it loads normally.",
	},
	FailureRefused: {
		Category: FailureRefused,
		Reason:   "Connection Refused",
		Detail:   "The server actively refused the connection.",
		Causes: []string{
			"Website is down or in maintenance",
			"Firewall blocking requests",
			"Website no longer exists",
		},
		UserAction: "Check if the website loads in your browser. The site may be temporarily unavailable.",
	},
	FailureTLS: {
		Category: FailureTLS,
		Reason:   "SSL/Security Certificate Error",
		Detail:   "There was an issue with the website's security certificate.",
		Causes: []string{
			"Expired security certificate",
			"Invalid or self-signed certificate",
			"Misconfigured HTTPS",
		},
		UserAction: "Be cautious - this could indicate a security risk. Verify the website's legitimacy before proceeding.",
	},
	FailureHTTPStatus: {
		Category: FailureHTTPStatus,
		Reason:   "HTTP Error Response",
		Detail:   "The website returned an error response.",
		Causes: []string{
			"Page not found (404)",
			"Server error (500)",
			"Access forbidden (403)",
		},
		UserAction: "The specific page may not exist or the website may be experiencing issues.",
	},
	FailureBadURL: {
		Category: FailureBadURL,
		Reason:   "Invalid URL Format",
		Detail:   "The provided URL is not properly formatted.",
		Causes: []string{
			"Missing protocol (http:// or https://)",
			"Invalid characters in URL",
			"Incomplete URL",
		},
		UserAction: "Please check the URL format and ensure it includes the full web address.",
	},
	FailureGeneric: {
		Category: FailureGeneric,
		Reason:   "Analysis Failed",
		Detail:   "Unable to analyze this URL due to technical issues.",
		Causes: []string{
			"Network connectivity problems",
			"Website protection mechanisms",
			"Temporary service unavailability",
		},
		UserAction: "Please try again later or verify the URL manually in your browser.",
	},
}
