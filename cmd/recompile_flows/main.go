package main

import (
	"context"
	"flag"
	"log"

	"chatflow-gateway/internal/automation"
	"chatflow-gateway/internal/config"
	"chatflow-gateway/internal/database"
)

// Compiles every stored flow and reports rule counts and warnings, without
// touching a running server.
func main() {
	only := flag.String("bot", "", "compile only this bot id")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.Open(cfg.DB, false)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	store := database.NewStore(db)
	ctx := context.Background()

	bots := []string{*only}
	if *only == "" {
		if bots, err = store.FlowBots(ctx); err != nil {
			log.Fatalf("Error listing flows: %v", err)
		}
	}

	failed := 0
	for _, botID := range bots {
		graph, err := store.LoadGraph(ctx, botID)
		if err != nil {
			log.Printf("Error loading flow of %s: %v", botID, err)
			failed++
			continue
		}
		res := automation.Compile(graph)
		log.Printf("%s: %d nodes, %d edges -> %d rules", botID, len(graph.Nodes), len(graph.Edges), len(res.Rules))
		for _, w := range res.Warnings {
			log.Printf("  warning: %s", w)
		}
	}

	log.Printf("Compiled %d flows, %d failed", len(bots)-failed, failed)
	if failed > 0 {
		log.Fatal("some flows could not be loaded")
	}
}
