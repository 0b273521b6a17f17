package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sable-pay/sable_pay/internal/config"
	"github.com/sable-pay/sable_pay/internal/infra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|status|redo]")
		os.Exit(1)
	}
	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := infra.RunMigrations(ctx, cfg.DatabaseURL, command); err != nil {
		fmt.Fprintf(os.Stderr, "migration %s failed: %v\n", command, err)
		os.Exit(1)
	}

	fmt.Printf("migration %s complete\n", command)
}
