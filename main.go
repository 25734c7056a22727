package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fletch-dev/fletch/cmd"
	"github.com/fletch-dev/fletch/internal/mcp"
)

func main() {
	// The child-process bridge relaunches this binary as a stdio tool
	// server. Handle the sentinel before cobra sees the args.
	for _, arg := range os.Args[1:] {
		if arg == mcp.InternalFlag {
			if err := cmd.RunInternalServer(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "mcp server: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
	cmd.Execute()
}
