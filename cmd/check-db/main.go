// Package main is a diagnostic tool for testing database connectivity and
// inspecting live audit data. It connects to the database, summarises the
// audit_events and alert_rules tables, and prints the result to stdout. The
// binary exits with a non-zero code on any failure so it can be embedded in
// health checks or CI/CD pipeline steps to gate deployments on a reachable,
// populated database.
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
		dbPassword = "sentinel"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=sentinel password=%s dbname=phi_sentinel sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Event counts per type over the last 24 hours.
	fmt.Println("=== AUDIT EVENTS (last 24h) ===")
	rows, err := db.Query(`
		SELECT event_type, severity, COUNT(*)
		FROM audit_events
		WHERE created_at >= NOW() - INTERVAL '24 hours'
		GROUP BY event_type, severity
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var eventType, severity string
		var n int
		if err := rows.Scan(&eventType, &severity, &n); err != nil {
			log.Printf("Warning: failed to scan event row: %v", err)
			continue
		}
		fmt.Printf("Event: %s [%s] count=%d\n", eventType, severity, n)
		count++
	}
	if count == 0 {
		fmt.Println("No events in the last 24 hours.")
	}

	// Stored rule overrides.
	fmt.Println("\n=== ALERT RULES ===")
	rows2, err := db.Query("SELECT id, name, severity, enabled FROM alert_rules ORDER BY id")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	ruleCount := 0
	for rows2.Next() {
		var id, name, severity string
		var enabled bool
		if err := rows2.Scan(&id, &name, &severity, &enabled); err != nil {
			log.Printf("Warning: failed to scan rule row: %v", err)
			continue
		}
		state := "enabled"
		if !enabled {
			state = "disabled"
		}
		fmt.Printf("Rule: %s (%s) [%s] %s\n", id, name, severity, state)
		ruleCount++
	}
	if ruleCount == 0 {
		fmt.Println("No stored rules; server falls back to the built-in catalog.")
	}
}
