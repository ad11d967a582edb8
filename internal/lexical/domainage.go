package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/phishr/phishr/internal/logging"
)

// RDAPAgeLookup resolves domain registration age through the public RDAP
// bootstrap service. Lookups are best-effort: any failure, missing event or
// timeout yields UnknownAge. Results are cached for the process lifetime
// since registration dates do not move.
type RDAPAgeLookup struct {
	client  *http.Client
	baseURL string
	logger  logging.Logger

	mu    sync.Mutex
	cache map[string]int
}

// NewRDAPAgeLookup creates an RDAP-backed age lookup. timeout bounds each
// registry call independently of the page-fetch timeout.
func NewRDAPAgeLookup(timeout time.Duration, logger logging.Logger) *RDAPAgeLookup {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("rdap")
	}
	return &RDAPAgeLookup{
		client:  &http.Client{Timeout: timeout},
		baseURL: "https://rdap.org",
		logger:  logger.With(logging.Field{Key: "component", Value: "rdap"}),
		cache:   make(map[string]int),
	}
}

// SetBaseURL overrides the RDAP endpoint (tests point this at httptest).
func (r *RDAPAgeLookup) SetBaseURL(base string) {
	r.baseURL = strings.TrimSuffix(base, "/")
}

// AgeDays implements AgeLookup.
func (r *RDAPAgeLookup) AgeDays(ctx context.Context, domain string) int {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return UnknownAge
	}

	r.mu.Lock()
	if age, ok := r.cache[domain]; ok {
		r.mu.Unlock()
		return age
	}
	r.mu.Unlock()

	age := r.fetchAge(ctx, domain)

	r.mu.Lock()
	r.cache[domain] = age
	r.mu.Unlock()
	return age
}

func (r *RDAPAgeLookup) fetchAge(ctx context.Context, domain string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/domain/%s", r.baseURL, domain), nil)
	if err != nil {
		return UnknownAge
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("rdap lookup failed",
			logging.Field{Key: "domain", Value: domain},
			logging.Field{Key: "error", Value: err.Error()})
		return UnknownAge
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UnknownAge
	}

	var body struct {
		Events []struct {
			Action string `json:"eventAction"`
			Date   string `json:"eventDate"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return UnknownAge
	}

	for _, ev := range body.Events {
		if ev.Action != "registration" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, ev.Date)
		if err != nil {
			continue
		}
		days := int(time.Since(ts).Hours() / 24)
		if days < 0 {
			days = 0
		}
		return days
	}
	return UnknownAge
}
