// graphctl is a thin administrative command over a vgdb data directory: no
// Cypher lexer/parser lives in this module, so unlike the teacher's
// cmd/repl and cmd/server this tool never accepts a query string — it only
// drives the operations a caller can already reach without one (schema
// listing and forced checkpoints).
package main

import (
	"flag"
	"fmt"
	"os"

	vgdb "github.com/vaultgraph/vgdb"
	"github.com/vaultgraph/vgdb/config"
)

var (
	flagConfig = flag.String("config", "vgdb.yaml", "path to the database's YAML config file")
	flagCmd    = flag.String("cmd", "schema", "schema, checkpoint")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "graphctl: load config:", err)
		os.Exit(1)
	}

	db, err := vgdb.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "graphctl: open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *flagCmd {
	case "schema":
		printSchema(db)
	case "checkpoint":
		if err := db.Checkpoint(); err != nil {
			fmt.Fprintln(os.Stderr, "graphctl: checkpoint:", err)
			os.Exit(1)
		}
		fmt.Println("checkpoint complete")
	default:
		fmt.Fprintf(os.Stderr, "graphctl: unknown -cmd %q\n", *flagCmd)
		os.Exit(1)
	}
}

func printSchema(db *vgdb.Database) {
	for _, t := range db.Catalog().AllNodeTables() {
		fmt.Printf("NODE TABLE %s (pk=%s)\n", t.Name, t.PrimaryKeyName)
		for _, p := range t.Properties {
			fmt.Printf("  %-20s %s\n", p.Name, p.Type)
		}
	}
	for _, t := range db.Catalog().AllRelTables() {
		fmt.Printf("REL TABLE %s\n", t.Name)
		for _, p := range t.Properties {
			fmt.Printf("  %-20s %s\n", p.Name, p.Type)
		}
	}
}
