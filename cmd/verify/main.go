// Command verify checks stored batch audits against their fairness proofs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/signing"
	pgstore "fair-sequencer/internal/storage/postgres"
	"fair-sequencer/internal/verification"
)

func main() {
	// Parse flags
	batchID := flag.String("batch-id", "", "Verify a single batch")
	poolID := flag.String("pool-id", "", "Verify the batches of one pool")
	limit := flag.Int("limit", 0, "With --pool-id, verify only the last N batches (0 = all)")
	fromTime := flag.String("from-time", "", "Start time (RFC3339)")
	toTime := flag.String("to-time", "", "End time (RFC3339)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	trustedKeys := flag.String("trusted-keys", os.Getenv("TRUSTED_SIGNER_KEYS"), "Comma-separated base58 signer public keys (required)")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("verify")
	defer logger.Sync()

	// Validate required flags
	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}
	keys := splitList(*trustedKeys)
	if len(keys) == 0 {
		logger.Fatal("--trusted-keys is required")
	}
	trusted, err := signing.NewTrustedVerifier(keys...)
	if err != nil {
		logger.Fatal("parse trusted keys", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	verifier := verification.NewStoreVerifier(verification.StoreVerifierOptions{
		Audits:    pgstore.NewBatchAuditStore(pool),
		Signature: trusted,
	})

	var report *verification.VerificationReport
	switch {
	case *batchID != "":
		res, err := verifier.VerifyBatch(ctx, *batchID)
		if err != nil {
			logger.Fatal("verify batch", zap.Error(err))
		}
		report = &verification.VerificationReport{TotalBatches: 1, Results: []verification.VerificationResult{*res}}
		switch {
		case res.Skipped:
			report.SkippedBatches = 1
		case res.Valid:
			report.ValidBatches = 1
		default:
			report.InvalidBatches = 1
		}
	case *poolID != "":
		report, err = verifier.VerifyPool(ctx, *poolID, *limit)
	case *fromTime != "" && *toTime != "":
		var from, to time.Time
		if from, err = time.Parse(time.RFC3339, *fromTime); err != nil {
			logger.Fatal("parse from-time", zap.Error(err))
		}
		if to, err = time.Parse(time.RFC3339, *toTime); err != nil {
			logger.Fatal("parse to-time", zap.Error(err))
		}
		report, err = verifier.VerifyRange(ctx, from.UnixMilli(), to.UnixMilli())
	default:
		logger.Fatal("one of --batch-id, --pool-id or --from-time/--to-time is required")
	}
	if err != nil {
		logger.Fatal("verification failed", zap.Error(err))
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
	} else {
		printReport(report)
	}

	if report.InvalidBatches > 0 {
		os.Exit(2)
	}
}

func printReport(r *verification.VerificationReport) {
	fmt.Printf("\n=== Verification Summary ===\n")
	fmt.Printf("Total Batches:    %d\n", r.TotalBatches)
	fmt.Printf("Valid:            %d\n", r.ValidBatches)
	fmt.Printf("Invalid:          %d\n", r.InvalidBatches)
	fmt.Printf("Skipped:          %d\n", r.SkippedBatches)

	for _, res := range r.Results {
		if res.Valid {
			continue
		}
		fmt.Printf("\n%s (pool %s, %s)\n", res.BatchID, res.PoolID, res.Status)
		for _, d := range res.Divergences {
			fmt.Printf("  %-16s expected %v, got %v\n", d.Field, d.Expected, d.Actual)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
