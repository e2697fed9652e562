// Benchmark tool for load-testing Kestrel's inline validation endpoint.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 5000
//	go run ./cmd/benchmark -cases labeled.jsonl
//
// Each case is a certificate with a known expected verdict. The tool posts
// every case to POST /compliance/validate, compares the verdict with the
// label, and reports a confusion matrix, latency and throughput.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Case is one labeled validation request. Cases files hold one per line.
type Case struct {
	Name            string          `json:"name"`
	COI             *domain.COI     `json:"coi"`
	Project         *domain.Project `json:"project,omitempty"`
	Trades          []string        `json:"trades"`
	ExpectCompliant bool            `json:"expectCompliant"`
}

// Metrics tracks benchmark results. Positive means "deficient".
type Metrics struct {
	TruePositives  int64 // Deficient certificate rejected
	FalsePositives int64 // Compliant certificate rejected
	TrueNegatives  int64 // Compliant certificate accepted
	FalseNegatives int64 // Deficient certificate accepted

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	casesPath := flag.String("cases", "", "Path to a JSON-lines file of labeled cases (default: generate)")
	count := flag.Int("n", 1000, "Number of cases to generate when -cases is not set")
	deficientRate := flag.Float64("deficient", 0.3, "Share of generated cases that are underinsured (0.0-1.0)")
	seed := flag.Int64("seed", 1, "Random seed for generated cases")
	workers := flag.Int("workers", 10, "Number of concurrent requests")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	fmt.Println("KESTREL BENCHMARK - inline certificate validation")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel serve")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	var cases []Case
	if *casesPath != "" {
		var err error
		if cases, err = readCases(*casesPath); err != nil {
			fmt.Printf("ERROR: Failed to read cases: %v\n", err)
			os.Exit(1)
		}
	} else {
		cases = generateCases(rand.New(rand.NewSource(*seed)), *count, *deficientRate)
	}
	fmt.Printf("Loaded %d cases\n", len(cases))

	start := time.Now()
	m, err := runBenchmark(context.Background(), cases, *baseURL, *tenantID, *workers, *verbose)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	printResults(m, time.Since(start))
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func readCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cases []Case
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var c Case
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.COI == nil {
			return nil, fmt.Errorf("line %d: coi is required", line)
		}
		cases = append(cases, c)
	}
	return cases, scanner.Err()
}

// lightTrades carry only the universal minimums, so a certificate at those
// minimums is compliant for any of them.
var lightTrades = []string{"painting", "flooring", "drywall", "landscaping", "cleaning", "insulation", "tile"}

// generateCases builds certificates at the universal minimums, then cuts one
// limit below its minimum for the deficient share.
func generateCases(rng *rand.Rand, n int, deficientRate float64) []Case {
	expires := time.Now().AddDate(1, 0, 0).Format("2006-01-02")
	cases := make([]Case, 0, n)

	for i := 0; i < n; i++ {
		trade := lightTrades[rng.Intn(len(lightTrades))]
		coi := &domain.COI{
			InsuredName:             fmt.Sprintf("Benchmark Sub %d", i),
			GLEachOccurrence:        domain.Limit(1_000_000),
			GLGeneralAggregate:      domain.Limit(2_000_000),
			GLProductsCompletedOps:  domain.Limit(1_000_000),
			GLEndorsements:          []string{"CG2010", "CG2037"},
			GLWaiverOfSubrogation:   true,
			GLExpirationDate:        expires,
			WCEachAccident:          domain.Limit(1_000_000),
			WCWaiverOfSubrogation:   true,
			WCExpirationDate:        expires,
			AutoCombinedSingleLimit: domain.Limit(1_000_000),
			AutoExpirationDate:      expires,
		}

		deficient := rng.Float64() < deficientRate
		if deficient {
			switch rng.Intn(3) {
			case 0:
				coi.GLEachOccurrence = domain.Limit(500_000)
			case 1:
				coi.WCEachAccident = domain.Limit(250_000)
			default:
				coi.GLWaiverOfSubrogation = false
			}
		}

		cases = append(cases, Case{
			Name:            fmt.Sprintf("case-%05d", i),
			COI:             coi,
			Project:         &domain.Project{Name: "Benchmark Project", Type: domain.ProjectStandard},
			Trades:          []string{trade},
			ExpectCompliant: !deficient,
		})
	}
	return cases
}

func runBenchmark(ctx context.Context, cases []Case, baseURL, tenantID string, numWorkers int, verbose bool) (*Metrics, error) {
	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for _, c := range cases {
		g.Go(func() error {
			start := time.Now()
			result, err := validateCase(ctx, client, baseURL, tenantID, c)
			atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
			atomic.AddInt64(&metrics.TotalProcessed, 1)

			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				atomic.AddInt64(&metrics.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR: %s -> %v\n", c.Name, err)
				}
				return nil
			}

			predicted := !result.Compliant
			actual := !c.ExpectCompliant
			switch {
			case predicted && actual:
				atomic.AddInt64(&metrics.TruePositives, 1)
			case predicted && !actual:
				atomic.AddInt64(&metrics.FalsePositives, 1)
			case !predicted && !actual:
				atomic.AddInt64(&metrics.TrueNegatives, 1)
			default:
				atomic.AddInt64(&metrics.FalseNegatives, 1)
			}

			if verbose {
				mark := "ok  "
				if predicted != actual {
					mark = "MISS"
				}
				fmt.Printf("%s %-12s | trades: %-12v | expected compliant: %-5v | issues: %d warnings: %d\n",
					mark, c.Name, c.Trades, c.ExpectCompliant, len(result.Issues), len(result.Warnings))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return metrics, err
	}
	return metrics, nil
}

type validateRequest struct {
	COI     *domain.COI     `json:"coi"`
	Project *domain.Project `json:"project,omitempty"`
	Trades  []string        `json:"trades"`
}

func validateCase(ctx context.Context, client *http.Client, baseURL, tenantID string, c Case) (*domain.ValidationResult, error) {
	body, err := json.Marshal(validateRequest{COI: c.COI, Project: c.Project, Trades: c.Trades})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/compliance/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Deficient:        %d\n", m.TruePositives+m.FalseNegatives)
	fmt.Printf("   Compliant:        %d\n", m.TrueNegatives+m.FalsePositives)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                         Predicted")
	fmt.Println("                    deficient  compliant")
	fmt.Printf("   Actual deficient  %9d  %9d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          compliant  %9d  %9d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	accuracy := float64(0)
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	fmt.Printf("\n   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	if m.FalsePositives+m.FalseNegatives > 0 {
		fmt.Println("\n   Verdicts disagree with labels; rerun with -verbose to inspect.")
	}
	fmt.Println()
}
