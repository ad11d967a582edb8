package content

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

// Caps keep single indicators from dominating the normalized space.
const (
	obfuscationScoreCap = 10
	scriptRatioCap      = 10
	excessiveDomains    = 5
)

var (
	suspiciousExtRe = regexp.MustCompile(`(?i)\.(exe|dll|msi|bat|ps1|vbs|scr|hta|cmd|js|jar|sh|py|php|pl)\b`)
	archiveExtRe    = regexp.MustCompile(`(?i)\.(zip|rar|7z|tar|gz|bz2|cab|iso)\b`)

	obfuscationCallRe = regexp.MustCompile(`eval\(|document\.write\(|string\.fromcharcode|unescape\(|parseint\(.+,\s*[0-9]+\)`)
	hexEscapeRe       = regexp.MustCompile(`\\x[0-9a-f]{2}|\\u[0-9a-f]{4}`)
	base64MarkerRe    = regexp.MustCompile(`base64,|btoa\(|atob\(`)
	evalRe            = regexp.MustCompile(`eval\(`)
	driveByRe         = regexp.MustCompile(`document\.write\(\s*unescape\(`)
	redirectJSRe      = regexp.MustCompile(`window\.location|location\.href|location\.replace`)

	hiddenStyleRe     = regexp.MustCompile(`display:\s*none|height:\s*0|width:\s*0|opacity:\s*0`)
	randomSubdomainRe = regexp.MustCompile(`(?i)://[a-z0-9]{8,}\.`)
	numericDomainRe   = regexp.MustCompile(`://[0-9]+\.`)
	suspiciousPathRe  = regexp.MustCompile(`(?i)/(setup|install|update|download|get|patch|exploit)\.(php|aspx|jsp)`)

	downloadPhrases = []string{
		"download", "install", "update", "upgrade", "get it now", "run now", "save file",
	}

	shortenerDomains = []string{
		"bit.ly", "tinyurl.com", "goo.gl", "t.co", "tiny.cc",
		"is.gd", "cli.gs", "pic.gd", "ow.ly", "migre.me", "ff.im", "url4.eu",
	}

	suspiciousDomainKeywords = []string{
		"download", "setup", "update", "free", "crack", "hack", "keygen",
		"patch", "serial", "warez", "full", "pirate", "nulled", "torrent",
	}

	executableContentTypes = []string{
		"application/octet-stream", "application/x-msdownload", "application/exe",
		"application/x-msdos-program", "application/java-archive",
	}

	tinyDimensions = map[string]bool{"0": true, "1": true, "0px": true, "1px": true}
)

// Extractor turns a FetchResult into the fixed-width content feature vector.
// Extract never fails: a document goquery cannot parse degrades to zeros for
// the DOM-derived indicators, logged but not surfaced.
type Extractor struct {
	logger logging.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(logger logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewStdoutLogger("content")
	}
	return &Extractor{
		logger: logger.With(logging.Field{Key: "component", Value: "content-extractor"}),
	}
}

// Extract computes the content FeatureVector for a successful fetch. The
// URL-shape indicators are computed even when the body is empty, since they
// only need the request URL.
func (e *Extractor) Extract(fr *model.FetchResult) model.FeatureVector {
	features := zeroVector()
	if fr == nil {
		return features
	}

	features["status_code"] = float64(fr.StatusCode)
	features["redirect_count"] = float64(fr.RedirectCount)

	e.extractURLShape(fr.URL, features)

	if strings.TrimSpace(fr.ContentType) != "" {
		ct := strings.ToLower(fr.ContentType)
		for _, exe := range executableContentTypes {
			if strings.Contains(ct, exe) {
				features["has_executable_content_type"] = 1
				break
			}
		}
	}

	if len(fr.HTML) == 0 {
		return features
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(fr.HTML))
	if err != nil {
		e.logger.Warn("html parse failed, dom features zero-filled",
			logging.Field{Key: "url", Value: fr.URL},
			logging.Field{Key: "error", Value: err.Error()})
		return features
	}

	e.extractStructure(doc, features)
	e.extractScripts(doc, features)
	e.extractIframes(doc, features)
	e.extractExternalDomains(doc, features)

	htmlLower := strings.ToLower(string(fr.HTML))
	e.extractRawMarkers(htmlLower, doc, features)

	return features
}

func (e *Extractor) extractURLShape(rawURL string, f model.FeatureVector) {
	if rawURL == "" {
		return
	}
	lower := strings.ToLower(rawURL)

	for _, d := range shortenerDomains {
		if strings.Contains(lower, d) {
			f["is_shortened_url"] = 1
			break
		}
	}

	if randomSubdomainRe.MatchString(rawURL) {
		f["has_random_subdomain"] = 1
	}
	if numericDomainRe.MatchString(rawURL) {
		f["has_numeric_domain"] = 1
	}
	if suspiciousPathRe.MatchString(rawURL) {
		f["has_suspicious_path"] = 1
	}

	count := 0
	for _, kw := range suspiciousDomainKeywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	f["suspicious_domain_count"] = float64(count)
	if count > 0 {
		f["has_suspicious_domains"] = 1
	}
}

func (e *Extractor) extractStructure(doc *goquery.Document, f model.FeatureVector) {
	title := doc.Find("title").First()
	if title.Length() > 0 {
		f["has_title"] = 1
		f["length_of_title"] = float64(len(title.Text()))
	}

	f["number_of_inputs"] = float64(doc.Find("input").Length())
	f["number_of_script"] = float64(doc.Find("script").Length())
	f["number_of_buttons"] = float64(doc.Find("button").Length())
	f["number_of_img"] = float64(doc.Find("img").Length())
	f["number_of_table"] = float64(doc.Find("table").Length())
	f["number_of_th"] = float64(doc.Find("th").Length())
	f["number_of_tr"] = float64(doc.Find("tr").Length())
	f["number_of_href"] = float64(doc.Find("a[href]").Length())
	f["number_of_paragraph"] = float64(doc.Find("p").Length())
	f["number_of_options"] = float64(doc.Find("option").Length())

	f["has_input"] = nonZero(f["number_of_inputs"])
	f["has_button"] = nonZero(f["number_of_buttons"])
	f["has_img"] = nonZero(f["number_of_img"])
	f["has_link"] = nonZero(float64(doc.Find("a").Length()))
	f["has_submit"] = nonZero(float64(doc.Find(`input[type="submit"]`).Length()))
	f["has_password"] = nonZero(float64(doc.Find(`input[type="password"]`).Length()))
	f["has_audio"] = nonZero(float64(doc.Find("audio").Length()))
	f["has_video"] = nonZero(float64(doc.Find("video").Length()))

	if doc.Find(`input[type="hidden"]`).Length() > 0 {
		f["has_hidden_element"] = 1
	} else {
		doc.Find("[style]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			style, _ := sel.Attr("style")
			if strings.Contains(strings.ToLower(style), "display:none") ||
				strings.Contains(strings.ToLower(style), "display: none") {
				f["has_hidden_element"] = 1
				return false
			}
			return true
		})
	}

	if doc.Find(`input[type="email"]`).Length() > 0 {
		f["has_email_input"] = 1
	} else {
		doc.Find("input[name]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			name, _ := sel.Attr("name")
			if strings.Contains(strings.ToLower(name), "email") {
				f["has_email_input"] = 1
				return false
			}
			return true
		})
	}
}

// extractScripts scores inline script obfuscation: eval-family calls weigh
// 3, hex/unicode escapes 2, base64 markers 2, capped at 10.
func (e *Extractor) extractScripts(doc *goquery.Document, f model.FeatureVector) {
	score := 0
	scriptLen := 0

	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		body := sel.Text()
		if body == "" {
			return
		}
		scriptLen += len(body)
		lower := strings.ToLower(body)

		if obfuscationCallRe.MatchString(lower) {
			score += 3
		}
		if hexEscapeRe.MatchString(lower) {
			score += 2
		}
		if base64MarkerRe.MatchString(lower) || strings.Contains(lower, ";base64,") {
			score += 2
			f["has_base64_script"] = 1
		}
		if evalRe.MatchString(lower) {
			f["has_eval_js"] = 1
		}
	})

	if score > obfuscationScoreCap {
		score = obfuscationScoreCap
	}
	f["js_obfuscation_score"] = float64(score)
	if score > 2 {
		f["has_obfuscated_js"] = 1
	}

	// A page that is mostly executable logic rather than content is a
	// common drive-by indicator.
	textLen := len(doc.Text())
	if textLen > 0 {
		ratio := float64(scriptLen) / float64(textLen)
		if ratio > scriptRatioCap {
			ratio = scriptRatioCap
		}
		f["script_to_content_ratio"] = ratio
	}
}

func (e *Extractor) extractIframes(doc *goquery.Document, f model.FeatureVector) {
	iframes := doc.Find("iframe")
	f["number_of_iframes"] = float64(iframes.Length())

	hidden := false
	iframes.Each(func(_ int, sel *goquery.Selection) {
		if style, ok := sel.Attr("style"); ok && hiddenStyleRe.MatchString(strings.ToLower(style)) {
			hidden = true
		}
		h, hasH := sel.Attr("height")
		w, hasW := sel.Attr("width")
		if hasH && hasW && (tinyDimensions[h] || tinyDimensions[w]) {
			hidden = true
		}
		if src, ok := sel.Attr("src"); ok && src != "" {
			if !strings.HasPrefix(src, "https:") && !strings.HasPrefix(src, "http:") && !strings.HasPrefix(src, "/") {
				f["has_iframe_loader"] = 1
			}
		}
	})
	if hidden {
		f["has_hidden_iframe"] = 1
	}

	suspicious := doc.Find("object").Length() + doc.Find("embed").Length() + doc.Find("applet").Length()
	f["number_of_suspicious_elements"] = float64(suspicious)
}

func (e *Extractor) extractExternalDomains(doc *goquery.Document, f model.FeatureVector) {
	domains := make(map[string]struct{})

	collect := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, sel *goquery.Selection) {
			val, ok := sel.Attr(attr)
			if !ok {
				return
			}
			if !strings.HasPrefix(val, "http://") && !strings.HasPrefix(val, "https://") {
				return
			}
			parts := strings.SplitN(val, "/", 4)
			if len(parts) >= 3 && parts[2] != "" {
				domains[parts[2]] = struct{}{}
			}
		}
	}

	doc.Find("script[src], iframe[src], img[src]").Each(collect("src"))
	doc.Find("a[href], link[href]").Each(collect("href"))

	f["external_domain_count"] = float64(len(domains))
	if len(domains) > excessiveDomains {
		f["has_excessive_domains"] = 1
	}
}

func (e *Extractor) extractRawMarkers(htmlLower string, doc *goquery.Document, f model.FeatureVector) {
	if suspiciousExtRe.MatchString(htmlLower) {
		f["has_exe_download"] = 1
	}
	if archiveExtRe.MatchString(htmlLower) {
		f["has_archive_download"] = 1
	}
	for _, phrase := range downloadPhrases {
		if strings.Contains(htmlLower, phrase) {
			f["has_download_button"] = 1
			break
		}
	}
	if driveByRe.MatchString(htmlLower) {
		f["has_drive_by_loader"] = 1
	}
	if redirectJSRe.MatchString(htmlLower) || doc.Find(`meta[http-equiv="refresh"]`).Length() > 0 {
		f["has_redirect_chains"] = 1
	}
}

func zeroVector() model.FeatureVector {
	f := make(model.FeatureVector, len(FeatureNames))
	for _, name := range FeatureNames {
		f[name] = 0
	}
	return f
}

func nonZero(v float64) float64 {
	if v > 0 {
		return 1
	}
	return 0
}
