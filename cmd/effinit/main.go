// Command effinit creates (or migrates to the latest schema) the
// exchange record store for a frequency band.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/skyring-data/exchange.tod/internal/effstore"
)

func main() {
	effdir := flag.String("effdir", "", "record-store directory (required)")
	band := flag.String("band", "", "frequency band identifier (required)")
	flag.Parse()

	if *effdir == "" || *band == "" {
		flag.Usage()
		os.Exit(2)
	}

	store, err := effstore.Open(*effdir, *band)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if err := store.SetMeta("band", *band); err != nil {
		log.Fatalf("record band: %v", err)
	}
	if err := store.SetMeta("initialized", time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Fatalf("record init time: %v", err)
	}
	log.Printf("store ready: %s", store.Path())
}
