package main

import (
	"context"
	"fmt"
	"os"

	"github.com/educonnect/backend/internal/app"
)

const usage = `usage: educonnect <command>

commands:
  serve                 run the HTTP API
  migrate [up|status]   apply or list SQL migrations
  seed <name>           apply seeds/<name>_seed.sql`

func main() {
	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "educonnect: %v\n", err)
		if len(os.Args) < 2 {
			fmt.Fprintln(os.Stderr, usage)
		}
		os.Exit(1)
	}
}
