package reputation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

// Detection-ratio thresholds for mapping VirusTotal verdict counts onto the
// ordinal threat scale.
const (
	vtHighRatio   = 0.3
	vtMediumRatio = 0.1
)

// VirusTotal queries the v3 URL report endpoint. A URL's report id is the
// unpadded urlsafe base64 of the URL itself, so a lookup needs no prior
// submission.
type VirusTotal struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func NewVirusTotal(apiKey string, timeout time.Duration, logger logging.Logger) *VirusTotal {
	if logger == nil {
		logger = logging.NewStdoutLogger("reputation")
	}
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &VirusTotal{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: "https://www.virustotal.com/api/v3",
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(logging.Field{Key: "provider", Value: "virustotal"}),
	}
}

func (vt *VirusTotal) Name() string { return "virustotal" }

func (vt *VirusTotal) Enabled() bool { return vt.apiKey != "" }

// SetBaseURL overrides the API endpoint (tests point this at httptest).
func (vt *VirusTotal) SetBaseURL(base string) {
	vt.baseURL = strings.TrimSuffix(base, "/")
}

// GetReport implements Provider.
func (vt *VirusTotal) GetReport(ctx context.Context, rawURL string) model.ReputationReport {
	report := model.ReputationReport{
		Provider:    vt.Name(),
		Status:      "error",
		ThreatLevel: model.ThreatUnknown,
	}

	urlID := base64.RawURLEncoding.EncodeToString([]byte(rawURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/urls/%s", vt.baseURL, urlID), nil)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	req.Header.Set("x-apikey", vt.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := vt.client.Do(req)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// URL never seen by VT: a valid, empty observation.
		report.Status = "success"
		report.Error = ""
		return report
	default:
		report.Error = fmt.Sprintf("virustotal returned status %d", resp.StatusCode)
		return report
	}

	var body struct {
		Data struct {
			Attributes struct {
				Stats map[string]int `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		report.Error = fmt.Sprintf("decode response: %v", err)
		return report
	}

	stats := body.Data.Attributes.Stats
	report.Malicious = stats["malicious"]
	report.Suspicious = stats["suspicious"]
	report.Harmless = stats["harmless"]
	report.Undetected = stats["undetected"]
	report.Total = report.Malicious + report.Suspicious + report.Harmless + report.Undetected

	if report.Total > 0 {
		report.RiskRatio = float64(report.Malicious+report.Suspicious) / float64(report.Total)
	}
	report.ThreatLevel = ratioThreatLevel(report.Malicious+report.Suspicious, report.RiskRatio)
	report.Status = "success"

	vt.logger.Debug("virustotal report",
		logging.Field{Key: "url", Value: rawURL},
		logging.Field{Key: "malicious", Value: report.Malicious},
		logging.Field{Key: "ratio", Value: report.RiskRatio},
		logging.Field{Key: "threat_level", Value: string(report.ThreatLevel)})
	return report
}

func ratioThreatLevel(detections int, ratio float64) model.ThreatLevel {
	switch {
	case ratio > vtHighRatio:
		return model.ThreatHigh
	case ratio > vtMediumRatio:
		return model.ThreatMedium
	case detections == 0:
		return model.ThreatLow
	default:
		return model.ThreatSuspicious
	}
}
