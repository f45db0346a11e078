// Command taskcore runs a workload through the worker pool and prints the
// per-task results.
//
// Without flags it runs a synthetic workload of demo.tasks tasks, a share of
// which fail randomly and several of which share a cache key. With -scenario
// it runs three tasks: A always fails, B succeeds at once and C succeeds on
// its second attempt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"github.com/jzx17/taskcore/internal/config"
	"github.com/jzx17/taskcore/internal/logger"
	"github.com/jzx17/taskcore/pkg/types"
	"github.com/jzx17/taskcore/pkg/worker"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

var errTransient = errors.New("transient upstream error")

func main() {
	configFlag := flag.String("config", "", "Path to a YAML config file")
	scenarioFlag := flag.Bool("scenario", false, "Run the A/B/C retry scenario instead of the synthetic workload")
	ciModeFlag := flag.Bool("ci", false, "CI mode: disable the progress bar")
	seedFlag := flag.Int64("seed", time.Now().UnixNano(), "Seed for the synthetic failure pattern")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskcore: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskcore: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *scenarioFlag, *ciModeFlag, *seedFlag); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, scenario, ciMode bool, seed int64) error {
	runID := uuid.NewString()
	log = log.With("run_id", runID)

	pool, err := worker.NewPool[string](&worker.PoolConfig{
		WorkerCount:   cfg.Pool.WorkerCount,
		QueueCapacity: cfg.Pool.QueueCapacity,
		SubmitTimeout: cfg.Pool.SubmitTimeout,
		RateLimit:     cfg.Pool.RateLimit,
		RateBurst:     cfg.Pool.RateBurst,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pool: %w", err)
	}

	var tasks []types.Task[string]
	if scenario {
		tasks = scenarioTasks()
	} else {
		tasks = syntheticTasks(cfg.Demo.Tasks, cfg.Demo.FailureRate, seed)
	}

	printConfiguration(runID, cfg, len(tasks))

	start := time.Now()
	h, err := pool.Submit(ctx, tasks...)
	if h == nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	if err != nil {
		log.Warn("not every task was queued", "error", err)
	}

	results, err := collect(h, cfg.Demo.CollectTimeout, ciMode)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("collection incomplete", "collected", len(results), "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx, err == nil); err != nil {
		log.Warn("shutdown did not complete", "error", err)
	}

	worker.SortBySubmission(results)
	printResults(results)
	printSummary(pool, elapsed)
	return nil
}

// collect polls the handle so the progress bar advances while tasks finish
func collect(h *worker.Handle[string], timeout time.Duration, ciMode bool) ([]types.WorkerResult[string], error) {
	var bar *progressbar.ProgressBar
	if !ciMode {
		bar = progressbar.NewOptions(h.Len(),
			progressbar.OptionSetDescription("Collecting results"),
			progressbar.OptionSetWidth(50),
			progressbar.OptionShowCount(),
			progressbar.OptionEnableColorCodes(true),
		)
	}

	deadline := time.Now().Add(timeout)
	for {
		results, err := h.CollectTimeout(100 * time.Millisecond)
		if bar != nil {
			_ = bar.Set(len(results))
		}
		if err == nil {
			if bar != nil {
				_ = bar.Finish()
				fmt.Println()
			}
			return results, nil
		}
		if !errors.Is(err, types.ErrTimeout) || time.Now().After(deadline) {
			fmt.Println()
			return results, err
		}
	}
}

func scenarioTasks() []types.Task[string] {
	var attemptsC int
	return []types.Task[string]{
		types.NewTask("A", func(ctx context.Context) (string, error) {
			return "", errTransient
		}),
		types.NewTask("B", func(ctx context.Context) (string, error) {
			return "b", nil
		}),
		types.NewTask("C", func(ctx context.Context) (string, error) {
			attemptsC++
			if attemptsC < 2 {
				return "", errTransient
			}
			return "c", nil
		}),
	}
}

// syntheticTasks builds n tasks with random latency. Roughly failureRate of
// the executions fail, and every fourth task shares its key with the task
// before it so the cache has work to share.
func syntheticTasks(n int, failureRate float64, seed int64) []types.Task[string] {
	rng := rand.New(rand.NewSource(seed))

	tasks := make([]types.Task[string], n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("task-%03d", i)
		key := id
		if i%4 == 3 {
			key = fmt.Sprintf("task-%03d", i-1)
		}

		latency := time.Duration(5+rng.Intn(45)) * time.Millisecond
		failures := 0
		for failures < 4 && rng.Float64() < failureRate {
			failures++
		}

		var calls int
		tasks[i] = types.NewKeyedTask(id, key, func(ctx context.Context) (string, error) {
			select {
			case <-time.After(latency):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			calls++
			if calls <= failures {
				return "", fmt.Errorf("%w (call %d)", errTransient, calls)
			}
			return fmt.Sprintf("%s computed in %v", key, latency), nil
		})
	}
	return tasks
}

func printConfiguration(runID string, cfg *config.Config, tasks int) {
	bold.Println("Configuration:")
	fmt.Printf("  Run:            %s\n", runID)
	fmt.Printf("  Workers:        %d\n", cfg.Pool.WorkerCount)
	fmt.Printf("  Queue capacity: %d\n", cfg.Pool.QueueCapacity)
	fmt.Printf("  Max attempts:   %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Base delay:     %v\n", cfg.Retry.BaseDelay)
	fmt.Printf("  Tasks:          %d\n", tasks)
	fmt.Println()
}

func printResults(results []types.WorkerResult[string]) {
	fmt.Println()
	bold.Println("Results:")

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task", "Key", "Outcome", "Attempts", "Cached", "Worker", "Time", "Detail")

	for _, r := range results {
		detail := r.Value
		if r.Err != nil {
			detail = r.Err.Error()
		}
		_ = table.Append(
			r.TaskID,
			r.Key,
			outcomeLabel(r.Outcome),
			fmt.Sprintf("%d", r.AttemptsUsed),
			fmt.Sprintf("%t", r.Cached),
			fmt.Sprintf("%d", r.WorkerID),
			r.Duration.Round(time.Millisecond).String(),
			detail,
		)
	}

	_ = table.Render()
}

func outcomeLabel(o types.Outcome) string {
	switch o {
	case types.OutcomeSuccess:
		return green.Sprint(o.String())
	case types.OutcomeCancelled:
		return yellow.Sprint(o.String())
	default:
		return red.Sprint(o.String())
	}
}

func printSummary(pool *worker.Pool[string], elapsed time.Duration) {
	stats := pool.Stats()
	cacheStats := pool.Cache().Stats()
	retryStats := pool.RetryStats()

	fmt.Println()
	bold.Println("Summary:")
	fmt.Printf("  Elapsed:        %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Submitted:      %d\n", stats.Submitted)
	fmt.Printf("  Succeeded:      %s\n", green.Sprint(stats.Completed))
	fmt.Printf("  Failed:         %s\n", red.Sprint(stats.Failed))
	fmt.Printf("  Cancelled:      %s\n", yellow.Sprint(stats.Cancelled))
	fmt.Printf("  Respawns:       %d\n", stats.Respawns)
	fmt.Printf("  Cache:          %d computed, %d hits, %d shared waits\n",
		cacheStats.Computations, cacheStats.Hits, cacheStats.SharedWaits)
	fmt.Printf("  Retries:        %d attempts, %.2f per task, %v backoff\n",
		retryStats.TotalAttempts, retryStats.AverageAttempts, retryStats.TotalRetryDelay)
}
