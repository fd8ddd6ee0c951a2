// Package main is a diagnostic tool for testing database connectivity and
// inspecting live QMS data. It connects to the database, summarises the users,
// documents, training_records, and audit_records tables, and prints the result
// to stdout. The binary exits with a non-zero code on any failure so it can be
// embedded in health checks or CI/CD pipeline steps to gate deployments on a
// reachable, populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "qms"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=qms password=%s dbname=qms sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	fmt.Println("=== TABLE COUNTS ===")
	for _, table := range []string{"users", "documents", "training_records", "audit_records"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			log.Fatalf("Query failed for %s: %v", table, err)
		}
		fmt.Printf("%-18s %d\n", table, count)
	}

	fmt.Println("\n=== LATEST AUDIT RECORDS ===")
	rows, err := db.Query(`SELECT id, actor_name, action, entity_table, module, recorded_at
		FROM audit_records ORDER BY recorded_at DESC, id DESC LIMIT 10`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id int64
		var actorName, action, entityTable, module, recordedAt string
		if err := rows.Scan(&id, &actorName, &action, &entityTable, &module, &recordedAt); err != nil {
			log.Printf("Warning: failed to scan audit row: %v", err)
			continue
		}
		fmt.Printf("#%d %s %s %s [%s] at %s\n", id, actorName, action, entityTable, module, recordedAt)
		count++
	}

	if count == 0 {
		fmt.Println("No audit records found!")
	}
}
