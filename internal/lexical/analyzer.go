package lexical

import (
	"context"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

// FeatureNames is the fixed, ordered lexical feature schema. The order is
// part of the persisted normalization state; append only.
var FeatureNames = []string{
	"url_length",
	"has_https",
	"has_www",
	"subdomain_count",
	"domain_length",
	"tld_length",
	"path_length",
	"query_length",
	"fragment_length",
	"digits_in_domain",
	"special_chars_count",
	"hyphens_in_domain",
	"dots_in_domain",
	"has_ip_address",
	"has_at_symbol",
	"has_double_slash_redirect",
	"query_param_count",
	"url_encoded_chars",
	"has_security_keywords",
	"has_login_keywords",
	"has_common_typos",
	"domain_age_days",
}

var (
	securityKeywords = []string{
		"secure", "login", "signin", "account", "verify", "update",
		"confirm", "security", "banking", "password", "credential",
	}
	loginKeywords = []string{
		"login", "signin", "logon", "signon", "account", "auth",
		"authentication", "password", "credential", "session",
	}

	encodedCharRe = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	specialCharRe = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)
	digitRe       = regexp.MustCompile(`\d`)
)

// AgeLookup resolves the registration age of a domain in days. Returning
// UnknownAge means the age could not be determined; it is never an error
// severe enough to fail the analysis.
type AgeLookup interface {
	AgeDays(ctx context.Context, domain string) int
}

// UnknownAge marks a domain whose registration date could not be resolved.
// It is distinct from zero: a freshly registered domain legitimately has age 0.
const UnknownAge = -1

// noAgeLookup always reports unknown. It keeps the default analyzer free of
// network I/O and therefore deterministic.
type noAgeLookup struct{}

func (noAgeLookup) AgeDays(context.Context, string) int { return UnknownAge }

// Analyzer computes lexical features and a heuristic confidence score from a
// URL string. Analyze never fails: malformed input yields a zero vector and
// a mid-range confidence of 0.5.
type Analyzer struct {
	age    AgeLookup
	logger logging.Logger
}

// NewAnalyzer constructs an Analyzer without a domain-age source; the
// domain_age_days feature is always UnknownAge.
func NewAnalyzer(logger logging.Logger) *Analyzer {
	return NewAnalyzerWithAgeLookup(nil, logger)
}

// NewAnalyzerWithAgeLookup constructs an Analyzer with a best-effort
// domain-age source (see NewRDAPAgeLookup). A nil lookup disables the feature.
func NewAnalyzerWithAgeLookup(age AgeLookup, logger logging.Logger) *Analyzer {
	if age == nil {
		age = noAgeLookup{}
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("lexical")
	}
	return &Analyzer{
		age:    age,
		logger: logger.With(logging.Field{Key: "component", Value: "lexical"}),
	}
}

// Analyze returns the lexical FeatureVector and the url_confidence_score in
// [0, MaxConfidence]. Higher means more suspicious.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string) (model.FeatureVector, float64) {
	features := zeroVector()

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" && !strings.Contains(rawURL, "://") {
		// Re-parse with a default scheme so bare hosts still analyze.
		parsed, err = url.Parse("http://" + rawURL)
	}
	if err != nil || parsed.Host == "" {
		a.logger.Warn("malformed url, returning default vector",
			logging.Field{Key: "url", Value: rawURL})
		features["domain_age_days"] = UnknownAge
		// Malformation is weakly suspicious but not proof.
		return features, 0.5
	}

	host := parsed.Hostname()
	suffix, _ := publicsuffix.PublicSuffix(host)
	registrable, rerr := publicsuffix.EffectiveTLDPlusOne(host)

	domain := ""
	subdomain := ""
	if rerr == nil {
		domain = strings.TrimSuffix(registrable, "."+suffix)
		subdomain = strings.TrimSuffix(strings.TrimSuffix(host, registrable), ".")
	}

	features["url_length"] = float64(len(rawURL))
	features["has_https"] = boolFeature(strings.HasPrefix(rawURL, "https"))
	features["has_www"] = boolFeature(strings.HasPrefix(parsed.Host, "www."))

	if subdomain != "" {
		features["subdomain_count"] = float64(len(strings.Split(subdomain, ".")))
	}
	features["domain_length"] = float64(len(domain))
	features["tld_length"] = float64(len(suffix))

	features["path_length"] = float64(len(parsed.Path))
	features["query_length"] = float64(len(parsed.RawQuery))
	features["fragment_length"] = float64(len(parsed.Fragment))

	features["digits_in_domain"] = float64(len(digitRe.FindAllString(domain, -1)))
	features["special_chars_count"] = float64(len(specialCharRe.FindAllString(parsed.Host, -1)))
	features["hyphens_in_domain"] = float64(strings.Count(parsed.Host, "-"))
	features["dots_in_domain"] = float64(strings.Count(parsed.Host, "."))

	features["has_ip_address"] = boolFeature(isIPHost(host))
	features["has_at_symbol"] = boolFeature(strings.Contains(hostAuthority(parsed), "@"))
	features["has_double_slash_redirect"] = boolFeature(strings.Contains(parsed.Path, "//"))
	features["query_param_count"] = float64(len(parsed.Query()))
	features["url_encoded_chars"] = float64(len(encodedCharRe.FindAllString(rawURL, -1)))

	features["has_security_keywords"] = float64(countKeywords(rawURL, securityKeywords))
	features["has_login_keywords"] = float64(countKeywords(rawURL, loginKeywords))
	features["has_common_typos"] = boolFeature(IsTyposquat(domain))

	age := UnknownAge
	if rerr == nil && features["has_ip_address"] == 0 {
		age = a.age.AgeDays(ctx, registrable)
	}
	features["domain_age_days"] = float64(age)

	return features, Confidence(features)
}

// Confidence computes the weighted risk score for a lexical feature vector
// and clamps it to [0, MaxConfidence].
func Confidence(f model.FeatureVector) float64 {
	score := 0.0

	if f["has_ip_address"] != 0 {
		score += RiskWeights["has_ip_address"]
	}
	if f["has_at_symbol"] != 0 {
		score += RiskWeights["has_at_symbol"]
	}
	if f["has_double_slash_redirect"] != 0 {
		score += RiskWeights["has_double_slash_redirect"]
	}
	if f["has_common_typos"] != 0 {
		score += RiskWeights["has_common_typos"]
	}

	score += f["special_chars_count"] * RiskWeights["special_chars_count"]
	score += f["url_encoded_chars"] * RiskWeights["url_encoded_chars"]
	score += f["has_security_keywords"] * RiskWeights["has_security_keywords"]
	score += f["has_login_keywords"] * RiskWeights["has_login_keywords"]
	score += f["digits_in_domain"] * RiskWeights["digits_in_domain"]

	if f["subdomain_count"] > 1 {
		score += (f["subdomain_count"] - 1) * RiskWeights["subdomain_count"]
	}
	if f["url_length"] > LongURLThreshold {
		score += (f["url_length"] - LongURLThreshold) * RiskWeights["url_length"]
	}

	// Older domains are progressively less suspicious, capped so ancient
	// domains cannot mask other indicators entirely. Unknown age (-1)
	// contributes nothing.
	if f["domain_age_days"] > 0 {
		age := f["domain_age_days"]
		if age > DomainAgeCapDays {
			age = DomainAgeCapDays
		}
		score += age * RiskWeights["domain_age_days"]
	}

	if score < 0 {
		score = 0
	}
	if score > MaxConfidence {
		score = MaxConfidence
	}
	return score
}

func zeroVector() model.FeatureVector {
	f := make(model.FeatureVector, len(FeatureNames))
	for _, name := range FeatureNames {
		f[name] = 0
	}
	return f
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isIPHost(host string) bool {
	return net.ParseIP(host) != nil
}

// hostAuthority returns the authority component including userinfo, which
// url.Parse strips from Host.
func hostAuthority(u *url.URL) string {
	if u.User != nil {
		return u.User.String() + "@" + u.Host
	}
	return u.Host
}

func countKeywords(rawURL string, keywords []string) int {
	lower := strings.ToLower(rawURL)
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}
