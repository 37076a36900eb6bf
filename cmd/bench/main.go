// README: Smoke and load runner against a live turbo-api; checks DB, Redis, the order flow and throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", counts[statusPass], counts[statusFail], counts[statusSkip])

	if counts[statusFail] > 0 || (cfg.Strict && counts[statusSkip] > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	AdminToken     string
	DSN            string
	RedisAddr      string
	MigrationGlob  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

// loadConfig reads flags, defaulting each to its TURBO_BENCH_* variable.
func loadConfig() Config {
	v := viper.New()
	v.SetEnvPrefix("turbo_bench")
	v.AutomaticEnv()
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("admin_token", "")
	v.SetDefault("dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("migrations", "migrations/*.sql")
	v.SetDefault("apply_migration", false)
	v.SetDefault("strict", false)
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("concurrency", 20)
	v.SetDefault("duration", 10*time.Second)

	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", v.GetString("base_url"), "API base URL")
	flag.StringVar(&cfg.AdminToken, "admin-token", v.GetString("admin_token"), "static admin bearer token")
	flag.StringVar(&cfg.DSN, "dsn", v.GetString("dsn"), "Postgres DSN; empty skips DB checks")
	flag.StringVar(&cfg.RedisAddr, "redis", v.GetString("redis_addr"), "Redis address; empty skips Redis checks")
	flag.StringVar(&cfg.MigrationGlob, "migrations", v.GetString("migrations"), "migration files")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", v.GetBool("apply_migration"), "apply migrations before the checks")
	flag.BoolVar(&cfg.Strict, "strict", v.GetBool("strict"), "treat skipped checks as failures")
	flag.DurationVar(&cfg.Timeout, "timeout", v.GetDuration("timeout"), "total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", v.GetInt("concurrency"), "parallel clients for race and load checks")
	flag.DurationVar(&cfg.Duration, "duration", v.GetDuration("duration"), "load check duration")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg
}
