package main

import (
	"flag"
	"log"
	"reflect"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatflow-gateway/internal/config"
	"chatflow-gateway/internal/database"
	"chatflow-gateway/internal/models"
)

// Copies every table from a SQLite file into the configured PostgreSQL
// database. Run cmd/sync_sequences afterwards.
func main() {
	source := flag.String("sqlite", "", "path of the SQLite database to copy (defaults to DB_PATH)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DB.Driver != "postgres" {
		log.Fatalf("DB_DRIVER must be postgres, got %q", cfg.DB.Driver)
	}
	if *source == "" {
		*source = cfg.DB.Path
	}

	// 1. Connect to SQLite (Source)
	sqliteDB, err := gorm.Open(sqlite.Open(*source), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to SQLite: %v", err)
	}
	log.Printf("Connected to SQLite at %s", *source)

	// 2. Connect to PostgreSQL (Destination), migrating the schema
	pgDB, err := database.Open(cfg.DB, false)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	log.Println("Starting data migration...")

	// models.All is ordered so that parents are copied before children.
	failed := 0
	for _, model := range models.All() {
		if err := migrateTable(sqliteDB, pgDB, model); err != nil {
			log.Printf("Error: %v", err)
			failed++
		}
	}

	if failed > 0 {
		log.Fatalf("Migration finished with %d failed tables", failed)
	}
	log.Println("Migration completed!")
}

func migrateTable(src, dst *gorm.DB, model any) error {
	stmt := &gorm.Statement{DB: src}
	if err := stmt.Parse(model); err != nil {
		return err
	}
	table := stmt.Schema.Table
	log.Printf("Migrating table: %s", table)

	rows := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem()))
	if err := src.Find(rows.Interface()).Error; err != nil {
		return err
	}
	n := rows.Elem().Len()
	if n == 0 {
		log.Printf("Skipped %s (empty)", table)
		return nil
	}

	err := dst.Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).CreateInBatches(rows.Interface(), 500).Error
	})
	if err != nil {
		return err
	}
	log.Printf("Successfully migrated %d rows of %s", n, table)
	return nil
}
