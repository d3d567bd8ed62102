package main

import (
	"log"

	"github.com/nexroute/backendify/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("backendify failed to start: %v", err)
	}
}
