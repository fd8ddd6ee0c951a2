// Package main generates a compliance report directly from the database,
// without going through the HTTP API. It is intended for scheduled jobs and
// regulatory submissions: a cron entry can produce the monthly report as a
// JSON artifact and alert on the exit code. Exit codes: 0 for COMPLIANT, 1 for
// NON_COMPLIANT, 2 for ERROR or any operational failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jinkaiteo/qms-backend/internal/audit"
	"github.com/jinkaiteo/qms-backend/internal/compliance"
	"github.com/jinkaiteo/qms-backend/internal/config"
	"github.com/jinkaiteo/qms-backend/internal/db"
	"github.com/jinkaiteo/qms-backend/internal/db/repositories"
)

func main() {
	var (
		lookback = flag.Duration("lookback", 30*24*time.Hour, "report window ending now")
		module   = flag.String("module", "", "restrict the report to one module (empty = full multi-module report)")
		output   = flag.String("output", "", "write the report JSON to this file instead of stdout")
		timeout  = flag.Duration("timeout", 5*time.Minute, "overall generation timeout")
	)
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	svc := audit.NewService(repositories.NewAuditRepository(sqlx.NewDb(database, "postgres")))
	reporter := compliance.NewReporter(svc, audit.NewVerifier(svc), cfg.Compliance.Modules, cfg.Compliance.ReportRecordCap)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	end := time.Now().UTC()
	start := end.Add(-*lookback)

	var report interface{}
	var status string
	if *module != "" {
		r, err := reporter.Generate(ctx, start, end, *module)
		if err != nil {
			log.Fatalf("Failed to generate report: %v", err)
		}
		report, status = r, r.ComplianceStatus
	} else {
		r, err := reporter.GenerateFull(ctx, start, end)
		if err != nil {
			log.Fatalf("Failed to generate report: %v", err)
		}
		report, status = r, r.OverallStatus
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}
	data = append(data, '\n')

	if *output != "" {
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			log.Fatalf("Failed to write report to %s: %v", *output, err)
		}
		log.Printf("Report written to %s (status: %s)", *output, status)
	} else {
		fmt.Print(string(data))
	}

	switch status {
	case compliance.StatusCompliant:
		os.Exit(0)
	case compliance.StatusNonCompliant:
		os.Exit(1)
	default:
		os.Exit(2)
	}
}
