package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

func newBenchmarkCmd() *cobra.Command {
	var (
		baseURL     string
		token       string
		duration    time.Duration
		concurrency int
		clients     int
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Load test token validation against a running server",
		Long: `Send concurrent POST /tokens/validate requests to a running keysmith server
and report how many were admitted and how many were rate limited, with latency
percentiles. Each worker can present a distinct X-Forwarded-For address so the
per-client limits can be observed across several identities.`,
		Example: `  keysmith benchmark --token eyJhbGciOi... --duration 10s --concurrency 20
  keysmith benchmark --url http://auth.internal:8080 --token $TOKEN --clients 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(baseURL, token, duration, concurrency, clients)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the keysmith server")
	cmd.Flags().StringVar(&token, "token", "", "Access token to validate (required)")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "Test duration")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "Number of concurrent workers")
	cmd.Flags().IntVar(&clients, "clients", 1, "Number of distinct client addresses to spread workers over")
	cmd.MarkFlagRequired("token")

	return cmd
}

// benchResult tallies responses by class.
type benchResult struct {
	admitted    atomic.Int64
	rateLimited atomic.Int64
	rejected    atomic.Int64
	errors      atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (r *benchResult) record(status int, elapsed time.Duration) {
	switch {
	case status == http.StatusOK:
		r.admitted.Add(1)
	case status == http.StatusTooManyRequests:
		r.rateLimited.Add(1)
	default:
		r.rejected.Add(1)
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, elapsed)
	r.mu.Unlock()
}

func runBenchmark(baseURL, token string, duration time.Duration, concurrency, clients int) error {
	if concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	if clients < 1 {
		clients = 1
	}
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}
	target := strings.TrimRight(baseURL, "/") + "/tokens/validate"

	fmt.Println("keysmith benchmark")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Target: POST %s\n", target)
	fmt.Printf("Duration: %s | Concurrency: %d | Clients: %d\n", duration, concurrency, clients)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: concurrency,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	res := &benchResult{latencies: make([]time.Duration, 0, 100000)}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			forwarded := fmt.Sprintf("198.51.100.%d", worker%clients+1)
			for ctx.Err() == nil {
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
				if err != nil {
					res.errors.Add(1)
					return
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Forwarded-For", forwarded)

				start := time.Now()
				resp, err := httpClient.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						res.errors.Add(1)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				res.record(resp.StatusCode, elapsed)
			}
		}(i)
	}
	wg.Wait()

	total := res.admitted.Load() + res.rateLimited.Load() + res.rejected.Load()
	fmt.Println("Results")
	fmt.Println("-------")
	fmt.Printf("  Total requests: %d\n", total)
	fmt.Printf("  Admitted (200): %d\n", res.admitted.Load())
	fmt.Printf("  Limited (429):  %d\n", res.rateLimited.Load())
	fmt.Printf("  Rejected:       %d\n", res.rejected.Load())
	fmt.Printf("  Errors:         %d\n", res.errors.Load())
	fmt.Printf("  RPS:            %.1f\n", float64(total)/duration.Seconds())

	if len(res.latencies) > 0 {
		lat := res.latencies
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		fmt.Printf("  Latency p50:    %s\n", lat[len(lat)*50/100])
		fmt.Printf("  Latency p95:    %s\n", lat[len(lat)*95/100])
		fmt.Printf("  Latency p99:    %s\n", lat[len(lat)*99/100])
		fmt.Printf("  Latency max:    %s\n", lat[len(lat)-1])
	}

	return nil
}
