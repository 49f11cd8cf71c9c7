package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/simulate"
)

// Default configuration constants.
const (
	defaultCandidates = 8
	defaultSpeed      = 10
	defaultTimeout    = 10 * time.Second
	defaultRunTimeout = 30 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	// Environment and config file supply the defaults flags can override.
	base, err := config.Load(context.Background())
	if err != nil {
		base = config.New()
	}

	var (
		baseURL    = flag.String("url", base.Agent.ServerURL, "Base URL of the service")
		secret     = flag.String("secret", base.JWTSecret, "JWT secret shared with the server")
		examID     = flag.String("exam", "", "Exam ID (default: generated)")
		scenario   = flag.String("scenario", "all", "Scenario name, mixed, or all")
		candidates = flag.Int("candidates", defaultCandidates, "Number of simulated candidates")
		workers    = flag.Int("workers", 0, "Sessions running at once (default: candidates)")
		speed      = flag.Float64("speed", defaultSpeed, "Exam seconds per wall-clock second")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Output file for session outcomes (default: simulation_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for simulator output (default: simulation_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return 0
	}

	if err := simulate.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:    *baseURL,
		Secret:     *secret,
		ExamID:     *examID,
		Scenario:   *scenario,
		Candidates: *candidates,
		Workers:    *workers,
		Timeout:    *timeout,
		Speed:      *speed,
		MaxScore:   base.Scoring.MaxIntegrity,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	}

	if err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		return 1
	}
	return 0
}
