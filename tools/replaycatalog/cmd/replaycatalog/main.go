package main

import (
	"flag"
	"fmt"
	"os"

	replaycatalog "tickforge/sync/tools/replaycatalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing session journal bundles")
	dbPath := flag.String("db", "", "optional sqlite catalogue to update")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.Scan(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *dbPath != "" {
		if err := replaycatalog.Index(*dbPath, entries); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (schema %d)\n", entry.BundlePath, entry.Header.SchemaVersion)
		fmt.Printf("  session: %s\n", entry.Header.SessionID)
		fmt.Printf("  tick rate: %.1f Hz, protocol v%d\n", entry.Header.TickRateHz, entry.Header.ProtocolVersion)
		fmt.Printf("  size: %d bytes\n", entry.SizeBytes)
		fmt.Printf("  header: %s\n", entry.HeaderPath)
	}
}
