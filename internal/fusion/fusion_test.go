package fusion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phishr/phishr/internal/content"
	"github.com/phishr/phishr/internal/ensemble"
	"github.com/phishr/phishr/internal/fetcher"
	"github.com/phishr/phishr/internal/lexical"
	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
	"github.com/phishr/phishr/internal/pipeline"
	"github.com/phishr/phishr/internal/reputation"
	"github.com/phishr/phishr/internal/webclient"
)

func newTestEngine(t *testing.T, norm *pipeline.Pipeline, clf *ensemble.Model, rep *reputation.Aggregator) *Engine {
	t.Helper()
	logger := logging.NewTestLogger(false)

	wc, err := webclient.NewNetHTTPClient(webclient.DefaultConfig(), logger, nil)
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	t.Cleanup(func() { wc.Close() })

	fcfg := fetcher.DefaultConfig()
	fcfg.Retries = 0
	fcfg.TaskDelay = 0
	fcfg.Timeout = 2 * time.Second
	f, err := fetcher.New(fcfg, wc, logger)
	if err != nil {
		t.Fatalf("fetcher.New: %v", err)
	}

	engine, err := NewEngine(lexical.NewAnalyzer(logger), f, content.NewExtractor(logger), norm, clf, rep, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestLexicalThreatLevel(t *testing.T) {
	cases := []struct {
		score float64
		want  model.ThreatLevel
	}{
		{0.95, model.ThreatHigh},
		{0.71, model.ThreatHigh},
		{0.7, model.ThreatMedium},
		{0.41, model.ThreatMedium},
		{0.4, model.ThreatLow},
		{0.0, model.ThreatLow},
	}
	for _, tc := range cases {
		if got := lexicalThreatLevel(tc.score); got != tc.want {
			t.Errorf("lexicalThreatLevel(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestDeriveThreatLevel(t *testing.T) {
	cases := []struct {
		name      string
		class     model.Class
		classProb float64
		lexScore  float64
		want      model.ThreatLevel
	}{
		{"malware always high", model.ClassMalwareDistribution, 0.5, 0.0, model.ThreatHigh},
		{"confident phishing", model.ClassCredentialPhishing, 0.9, 0.0, model.ThreatHigh},
		{"uncertain phishing", model.ClassCredentialPhishing, 0.6, 0.0, model.ThreatMedium},
		{"confident malicious", model.ClassMalicious, 0.95, 0.0, model.ThreatHigh},
		{"uncertain malicious", model.ClassMalicious, 0.55, 0.0, model.ThreatMedium},
		{"confident legitimate", model.ClassLegitimate, 0.95, 0.1, model.ThreatSafe},
		{"uncertain legitimate", model.ClassLegitimate, 0.6, 0.1, model.ThreatLow},
		{"legitimate overridden by url", model.ClassLegitimate, 0.95, 0.65, model.ThreatMedium},
	}
	for _, tc := range cases {
		if got := deriveThreatLevel(tc.class, tc.classProb, tc.lexScore); got != tc.want {
			t.Errorf("%s: deriveThreatLevel = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyURLPartialOnFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL + "/page"
	srv.Close() // connection now refused

	engine := newTestEngine(t, nil, nil, nil)
	v := engine.ClassifyURL(context.Background(), target)

	if v.State != model.StatePartialScored {
		t.Fatalf("State = %q, want partial", v.State)
	}
	if !strings.HasPrefix(v.Error, "content fetch failed") {
		t.Errorf("Error = %q, want content fetch failed prefix", v.Error)
	}
	if v.Explanation == nil || v.Explanation.Category != model.FailureRefused {
		t.Errorf("Explanation = %+v, want connection_refused", v.Explanation)
	}
	if v.FinalConfidence != v.LexicalScore {
		t.Errorf("FinalConfidence = %v, want lexical score %v unscaled", v.FinalConfidence, v.LexicalScore)
	}
	if want := lexicalThreatLevel(v.LexicalScore); v.ThreatLevel != want {
		t.Errorf("ThreatLevel = %q, want %q from lexical thresholds", v.ThreatLevel, want)
	}
	if v.ScanID == "" {
		t.Error("ScanID is empty")
	}
}

func TestClassifyURLScoredWithoutClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	engine := newTestEngine(t, nil, nil, nil)
	v := engine.ClassifyURL(context.Background(), srv.URL)

	if v.State != model.StateScored {
		t.Fatalf("State = %q, want scored", v.State)
	}
	if v.ClassName != "" {
		t.Errorf("ClassName = %q, want empty without a classifier", v.ClassName)
	}
	if v.FinalConfidence != v.LexicalScore {
		t.Errorf("FinalConfidence = %v, want lexical score %v", v.FinalConfidence, v.LexicalScore)
	}
	if v.Error != "" {
		t.Errorf("Error = %q, want empty", v.Error)
	}
}

const legitHTML = `<html><head><title>Company News</title></head>
<body><p>quarterly update</p><p>more text</p></body></html>`

const malwareHTML = `<html><head><title>x</title></head><body>
<a href="/setup.exe">Download now</a>
<script>eval(unescape("%41"));var x="\x41\x42";atob("QUI=");</script>
<iframe src="http://drop.example" width="1" height="1"></iframe>
</body></html>`

// trainTinyModel fits a pipeline and ensemble on feature vectors extracted
// from the two fixture pages, labeled binary.
func trainTinyModel(t *testing.T, legitURL, malURL string) (*pipeline.Pipeline, *ensemble.Model) {
	t.Helper()
	logger := logging.NewTestLogger(false)
	ex := content.NewExtractor(logger)

	var X []model.FeatureVector
	var y []model.Class
	for i := 0; i < 8; i++ {
		X = append(X, ex.Extract(&model.FetchResult{
			URL: legitURL, HTML: []byte(legitHTML), StatusCode: 200, Success: true,
		}))
		y = append(y, model.ClassLegitimate)
		X = append(X, ex.Extract(&model.FetchResult{
			URL: malURL, HTML: []byte(malwareHTML), StatusCode: 200, Success: true,
		}))
		y = append(y, model.ClassMalicious)
	}

	pipe := pipeline.New()
	if err := pipe.Fit(X, content.FeatureNames); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	vecs, err := pipe.TransformAll(X)
	if err != nil {
		t.Fatalf("TransformAll: %v", err)
	}

	cfg := ensemble.DefaultTrainConfig()
	cfg.ForestTrees = 10
	cfg.ForestMaxDepth = 4
	cfg.BoostRounds = 10
	cfg.ShallowRounds = 10
	mdl, err := ensemble.Train(cfg, vecs, y, []model.Class{model.ClassLegitimate, model.ClassMalicious}, logger)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	return pipe, mdl
}

func TestClassifyURLWithClassifier(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(legitHTML))
	})
	mux.HandleFunc("/loader", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(malwareHTML))
	})

	pipe, mdl := trainTinyModel(t, srv.URL+"/news", srv.URL+"/loader")
	engine := newTestEngine(t, pipe, mdl, nil)

	v := engine.ClassifyURL(context.Background(), srv.URL+"/loader")
	if v.State != model.StateScored {
		t.Fatalf("State = %q, want scored (error %q)", v.State, v.Error)
	}
	if v.ClassName != model.ClassMalicious {
		t.Errorf("ClassName = %q, want %q", v.ClassName, model.ClassMalicious)
	}
	if len(v.Probabilities) != 2 {
		t.Errorf("got %d class probabilities, want 2", len(v.Probabilities))
	}
	if want := deriveThreatLevel(v.ClassName, maxProb(v.Probabilities), v.LexicalScore); v.ThreatLevel != want {
		t.Errorf("ThreatLevel = %q, want %q", v.ThreatLevel, want)
	}
	if v.FinalConfidence < 0 || v.FinalConfidence > 1 {
		t.Errorf("FinalConfidence = %v, want [0,1]", v.FinalConfidence)
	}

	v = engine.ClassifyURL(context.Background(), srv.URL+"/news")
	if v.ClassName != model.ClassLegitimate {
		t.Errorf("ClassName = %q, want %q", v.ClassName, model.ClassLegitimate)
	}
}

func maxProb(probs map[model.Class]float64) float64 {
	max := 0.0
	for _, p := range probs {
		if p > max {
			max = p
		}
	}
	return max
}

type fixedProvider struct {
	level model.ThreatLevel
}

func (p *fixedProvider) Name() string  { return "fixed" }
func (p *fixedProvider) Enabled() bool { return true }
func (p *fixedProvider) GetReport(context.Context, string) model.ReputationReport {
	return model.ReputationReport{Provider: "fixed", Status: "success", ThreatLevel: p.level}
}

func TestReputationOnlyRaises(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(legitHTML))
	}))
	defer srv.Close()

	logger := logging.NewTestLogger(false)

	// A high reputation report raises a low lexical verdict.
	agg := reputation.NewAggregator(reputation.DefaultConfig(), logger, &fixedProvider{level: model.ThreatHigh})
	v := newTestEngine(t, nil, nil, agg).ClassifyURL(context.Background(), srv.URL)
	if v.ThreatLevel != model.ThreatHigh {
		t.Errorf("ThreatLevel = %q, want high after reputation fold", v.ThreatLevel)
	}
	if len(v.Reputation) != 1 {
		t.Errorf("got %d reputation reports, want 1", len(v.Reputation))
	}

	// A low reputation report must not lower an established level.
	agg = reputation.NewAggregator(reputation.DefaultConfig(), logger, &fixedProvider{level: model.ThreatLow})
	v = newTestEngine(t, nil, nil, agg).ClassifyURL(context.Background(), "http://192.168.1.1:1/secure-login-verify")
	if v.State != model.StatePartialScored {
		t.Fatalf("State = %q, want partial for unreachable host", v.State)
	}
	if v.ThreatLevel != model.ThreatHigh {
		t.Errorf("ThreatLevel = %q, want high kept despite low reputation", v.ThreatLevel)
	}
}

func TestClassifyURLsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(legitHTML))
	}))
	defer srv.Close()

	engine := newTestEngine(t, nil, nil, nil)
	urls := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}

	seen := make(map[int]bool)
	verdicts := engine.ClassifyURLs(context.Background(), urls, func(index, total int, v *model.Verdict) {
		if total != len(urls) {
			t.Errorf("progress total = %d, want %d", total, len(urls))
		}
		if seen[index] {
			t.Errorf("progress reported index %d twice", index)
		}
		seen[index] = true
		if v == nil || v.URL != urls[index] {
			t.Errorf("progress verdict for index %d = %+v, want %q", index, v, urls[index])
		}
	})

	if len(verdicts) != len(urls) {
		t.Fatalf("got %d verdicts, want %d", len(verdicts), len(urls))
	}
	for i, v := range verdicts {
		if v.URL != urls[i] {
			t.Errorf("verdicts[%d].URL = %q, want %q", i, v.URL, urls[i])
		}
	}
	if len(seen) != len(urls) {
		t.Errorf("progress covered %d of %d URLs", len(seen), len(urls))
	}
}

func TestClassifyURLsBoundedConcurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(legitHTML))
	}))
	defer srv.Close()

	engine := newTestEngine(t, nil, nil, nil)

	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/page/%d", srv.URL, i)
	}
	verdicts := engine.ClassifyURLs(context.Background(), urls, nil)

	for i, v := range verdicts {
		if v.State != model.StateScored {
			t.Errorf("verdicts[%d].State = %q, want scored", i, v.State)
		}
	}
	// DefaultConfig allows 5 workers; with 6 slow pages the batch must
	// actually overlap fetches while staying within the pool width.
	if got := maxInFlight.Load(); got < 2 {
		t.Errorf("max concurrent fetches = %d, want overlapping requests", got)
	}
	if got := maxInFlight.Load(); got > 5 {
		t.Errorf("max concurrent fetches = %d, exceeds the pool width", got)
	}
}
