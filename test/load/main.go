package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/credits-gateway/internal/auth"
	"github.com/valyala/fasthttp"
)

// Load test for the deduct path: every request spends one credit of a single user,
// so it also exercises row contention on the balance.
type LoadTestConfig struct {
	BaseURL           string
	RequestsPerSecond int
	DurationSeconds   int
	ConcurrentWorkers int
	UserID            string
	JWTSecret         string
	AdminToken        string
	SeedCredits       int64
}

type Stats struct {
	successCount      atomic.Int64
	insufficientCount atomic.Int64
	errorCount        atomic.Int64
	responseTimes     []float64
	mu                sync.Mutex
}

func (s *Stats) addResponseTime(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes = append(s.responseTimes, duration)
}

func (s *Stats) getResponseTimes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := make([]float64, len(s.responseTimes))
	copy(times, s.responseTimes)
	return times
}

func sendDeduct(client *fasthttp.Client, config LoadTestConfig, token string, payload []byte, stats *Stats) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(config.BaseURL + "/api/credits/deduct")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.SetBody(payload)

	start := time.Now()
	err := client.DoTimeout(req, resp, 60*time.Second)
	stats.addResponseTime(time.Since(start).Seconds())
	if err != nil {
		stats.errorCount.Add(1)
		return
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
		stats.successCount.Add(1)
	case fasthttp.StatusBadRequest:
		stats.insufficientCount.Add(1)
	default:
		stats.errorCount.Add(1)
	}
}

// seed grants the starting balance through the admin endpoint.
func seed(client *fasthttp.Client, config LoadTestConfig) error {
	body, _ := json.Marshal(map[string]any{
		"userId":      config.UserID,
		"amount":      config.SeedCredits,
		"type":        "bonus",
		"description": "load test seed",
	})

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(config.BaseURL + "/api/admin/credits")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+config.AdminToken)
	req.SetBody(body)

	if err := client.DoTimeout(req, resp, 10*time.Second); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("seed answered %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

func worker(client *fasthttp.Client, config LoadTestConfig, token string, payload []byte, stats *Stats, jobs <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for range jobs {
		sendDeduct(client, config, token, payload, stats)
	}
}

func calculatePercentile(sorted []float64, percentile float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func main() {
	config := LoadTestConfig{
		BaseURL:           strings.TrimRight(getEnvOrDefault("TARGET_URL", "http://localhost:8080"), "/"),
		RequestsPerSecond: getEnvIntOrDefault("REQUESTS_PER_SECOND", 500),
		DurationSeconds:   getEnvIntOrDefault("DURATION_SECONDS", 30),
		ConcurrentWorkers: getEnvIntOrDefault("CONCURRENT_WORKERS", 100),
		UserID:            getEnvOrDefault("USER_ID", "load-test-user"),
		JWTSecret:         os.Getenv("AUTH_JWT_SECRET"),
		AdminToken:        os.Getenv("ADMIN_API_TOKEN"),
		SeedCredits:       int64(getEnvIntOrDefault("SEED_CREDITS", 0)),
	}
	if config.JWTSecret == "" {
		fmt.Println("AUTH_JWT_SECRET is required to sign the test user token")
		os.Exit(1)
	}

	token, err := auth.NewAuthenticator(config.JWTSecret, "").Sign(auth.User{ID: config.UserID, Email: config.UserID + "@load.test"}, time.Hour)
	if err != nil {
		panic(err)
	}

	payload, err := json.Marshal(map[string]int64{"amount": 1})
	if err != nil {
		panic(err)
	}

	client := &fasthttp.Client{
		MaxConnsPerHost:     config.ConcurrentWorkers,
		MaxIdleConnDuration: 90 * time.Second,
	}

	if config.SeedCredits > 0 {
		if err := seed(client, config); err != nil {
			fmt.Printf("seeding failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("Starting load test...")
	fmt.Printf("Target: %s/api/credits/deduct\n", config.BaseURL)
	fmt.Printf("Total requests: %d\n", config.RequestsPerSecond*config.DurationSeconds)
	fmt.Printf("Target RPS: %d\n", config.RequestsPerSecond)
	fmt.Printf("Concurrent workers: %d\n", config.ConcurrentWorkers)
	fmt.Printf("Duration: %d seconds\n", config.DurationSeconds)
	fmt.Println(strings.Repeat("-", 50))

	stats := &Stats{}
	jobs := make(chan struct{}, config.RequestsPerSecond)

	var wg sync.WaitGroup
	for i := 0; i < config.ConcurrentWorkers; i++ {
		wg.Add(1)
		go worker(client, config, token, payload, stats, jobs, &wg)
	}

	startTime := time.Now()
	totalRequests := config.RequestsPerSecond * config.DurationSeconds
	requestsSent := 0

	for i := 0; i < config.DurationSeconds && requestsSent < totalRequests; i++ {
		batchStart := time.Now()

		for j := 0; j < config.RequestsPerSecond && requestsSent < totalRequests; j++ {
			jobs <- struct{}{}
			requestsSent++
		}

		success := stats.successCount.Load()
		insufficient := stats.insufficientCount.Load()
		errs := stats.errorCount.Load()
		fmt.Printf("[%ds] Completed: %d | Deducted: %d | Insufficient: %d | Errors: %d\n",
			i+1, success+insufficient+errs, success, insufficient, errs)

		if elapsed := time.Since(batchStart); elapsed < time.Second {
			time.Sleep(time.Second - elapsed)
		}
	}

	close(jobs)
	wg.Wait()

	duration := time.Since(startTime).Seconds()
	success := stats.successCount.Load()
	insufficient := stats.insufficientCount.Load()
	errs := stats.errorCount.Load()
	total := success + insufficient + errs

	times := stats.getResponseTimes()
	sort.Float64s(times)
	var avg float64
	for _, t := range times {
		avg += t
	}
	if len(times) > 0 {
		avg /= float64(len(times))
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Duration: %.2f seconds\n", duration)
	fmt.Printf("Total requests: %d\n", total)
	fmt.Printf("Deducted: %d\n", success)
	fmt.Printf("Insufficient credits: %d\n", insufficient)
	fmt.Printf("Failed: %d\n", errs)
	if total > 0 {
		fmt.Printf("Success rate: %.2f%%\n", float64(success)/float64(total)*100)
	}
	fmt.Printf("\nActual RPS: %.2f\n", float64(total)/duration)
	fmt.Printf("\nResponse times:\n")
	fmt.Printf("  Average: %.2f ms\n", avg*1000)
	fmt.Printf("  P50: %.2f ms\n", calculatePercentile(times, 0.50)*1000)
	fmt.Printf("  P95: %.2f ms\n", calculatePercentile(times, 0.95)*1000)
	fmt.Printf("  P99: %.2f ms\n", calculatePercentile(times, 0.99)*1000)
	if len(times) > 0 {
		fmt.Printf("  Min: %.2f ms\n", times[0]*1000)
		fmt.Printf("  Max: %.2f ms\n", times[len(times)-1]*1000)
	}
}
