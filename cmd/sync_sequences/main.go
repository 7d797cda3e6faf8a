package main

import (
	"log"

	"chatflow-gateway/internal/config"
	"chatflow-gateway/internal/database"
)

// Tables with serial ids, whose sequences lag behind after a bulk copy.
var tables = []string{
	"flow_nodes",
	"flow_edges",
	"leads",
	"messages",
	"lead_variables",
	"knowledge_entries",
	"services",
	"schedule_entries",
	"bookings",
	"automation_logs",
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DB.Driver != "postgres" {
		log.Fatalf("DB_DRIVER must be postgres, got %q", cfg.DB.Driver)
	}
	db, err := database.Open(cfg.DB, false)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	log.Println("Syncing PostgreSQL sequences...")

	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			log.Printf("Error syncing sequence for %s: %v", table, err)
		} else {
			log.Printf("Successfully synced sequence for %s", table)
		}
	}

	log.Println("DONE!")
}
