package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Mode selects what the process does for this run.
type Mode string

const (
	ModeScan  Mode = "scan"
	ModeBatch Mode = "batch"
	ModeTrain Mode = "train"
	ModeServe Mode = "serve"
)

// CLIArgs are the command-line arguments for a single run.
type CLIArgs struct {
	Mode Mode

	// URL is the single scan target (-url).
	URL string
	// BatchFile is a newline-separated URL list (-batch).
	BatchFile string

	// Training corpora (-train with -legit/-phishing, optional -malware).
	LegitimateCSV string
	PhishingCSV   string
	MalwareCSV    string

	ListenAddr   string
	ArtifactsDir string
	Backend      string
	VTAPIKey     string
	LookupAge    bool

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by
// passing arbitrary slices. The function is deterministic and does not read
// os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("phishr", flag.ContinueOnError)
	var (
		url       = fs.String("url", "", "Scan a single URL")
		batch     = fs.String("batch", "", "Scan a newline-separated file of URLs")
		train     = fs.Bool("train", false, "Train model artifacts from labeled corpora")
		serve     = fs.Bool("serve", false, "Run the HTTP API")
		legit     = fs.String("legit", "", "CSV of legitimate URLs (training)")
		phishing  = fs.String("phishing", "", "CSV of phishing URLs (training)")
		malware   = fs.String("malware", "", "CSV of malware-distribution URLs (training, optional)")
		listen    = fs.String("listen", ":8080", "Serve-mode listen address")
		dataDir   = fs.String("data", "./phishr-data", "Artifact store directory")
		backend   = fs.String("backend", "nethttp", "Fetch backend: nethttp|chromedp")
		vtKey     = fs.String("vt-key", "", "VirusTotal API key (falls back to VT_API_KEY)")
		lookupAge = fs.Bool("domain-age", false, "Resolve domain registration age via RDAP")
	)

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	out := &CLIArgs{
		URL:           strings.TrimSpace(*url),
		BatchFile:     strings.TrimSpace(*batch),
		LegitimateCSV: *legit,
		PhishingCSV:   *phishing,
		MalwareCSV:    *malware,
		ListenAddr:    *listen,
		ArtifactsDir:  *dataDir,
		Backend:       strings.ToLower(strings.TrimSpace(*backend)),
		VTAPIKey:      *vtKey,
		LookupAge:     *lookupAge,
		RawArgs:       args,
	}

	modes := 0
	if out.URL != "" {
		out.Mode = ModeScan
		modes++
	}
	if out.BatchFile != "" {
		out.Mode = ModeBatch
		modes++
	}
	if *train {
		out.Mode = ModeTrain
		modes++
	}
	if *serve {
		out.Mode = ModeServe
		modes++
	}
	if modes == 0 {
		return nil, fmt.Errorf("one of -url, -batch, -train or -serve is required")
	}
	if modes > 1 {
		return nil, fmt.Errorf("-url, -batch, -train and -serve are mutually exclusive")
	}

	if out.Mode == ModeTrain && (out.LegitimateCSV == "" || out.PhishingCSV == "") {
		return nil, fmt.Errorf("-train requires -legit and -phishing")
	}
	return out, nil
}
