// Command phishr scores URLs for phishing and malware-distribution risk.
//
// Usage:
//
//	phishr -url https://example.com/login
//	phishr -batch urls.txt
//	phishr -train -legit legit.csv -phishing phishing.csv [-malware malware.csv]
//	phishr -serve -listen :8080
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/phishr/phishr/internal/app"
	"github.com/phishr/phishr/internal/cli"
	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/server"
)

func main() {
	args, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("phishr: %v", err)
	}

	cfg := app.DefaultConfig()
	cfg.ArtifactsDir = args.ArtifactsDir
	cfg.ListenAddr = args.ListenAddr
	cfg.LookupDomainAge = args.LookupAge
	cfg.WebClientCfg.Backend = args.Backend
	cfg.ReputationCfg.VirusTotalAPIKey = args.VTAPIKey
	cfg.TrainingCfg.LegitimateCSV = args.LegitimateCSV
	cfg.TrainingCfg.PhishingCSV = args.PhishingCSV
	cfg.TrainingCfg.MalwareCSV = args.MalwareCSV

	logger := logging.NewStdoutLogger("phishr")
	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("phishr: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args.Mode {
	case cli.ModeScan:
		runScan(ctx, application, args.URL)
	case cli.ModeBatch:
		runBatch(ctx, application, args.BatchFile)
	case cli.ModeTrain:
		runTrain(ctx, application)
	case cli.ModeServe:
		runServe(ctx, application, cfg.ListenAddr)
	}
}

func runScan(ctx context.Context, application *app.Application, url string) {
	verdict := application.Engine.ClassifyURL(ctx, url)
	printJSON(verdict)
}

func runBatch(ctx context.Context, application *app.Application, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("phishr: open batch file: %v", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("phishr: read batch file: %v", err)
	}
	if len(urls) == 0 {
		log.Fatalf("phishr: batch file %s contains no URLs", path)
	}

	verdicts := application.Engine.ClassifyURLs(ctx, urls, nil)
	printJSON(verdicts)
}

func runTrain(ctx context.Context, application *app.Application) {
	trainer, err := application.NewTrainer()
	if err != nil {
		log.Fatalf("phishr: %v", err)
	}
	eval, err := trainer.Run(ctx)
	if err != nil {
		log.Fatalf("phishr: training failed: %v", err)
	}
	printJSON(eval)
}

func runServe(ctx context.Context, application *app.Application, listenAddr string) {
	srvCfg := server.DefaultConfig()
	srvCfg.ListenAddr = listenAddr

	srv, err := server.NewServer(srvCfg, application)
	if err != nil {
		log.Fatalf("phishr: %v", err)
	}

	httpServer := srv.HTTPServer()
	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	fmt.Printf("phishr API listening on %s\n", listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("phishr: server error: %v", err)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("phishr: encode output: %v", err)
	}
}
