package main

import (
	"fmt"
	"os"

	"tokoku/internal/posclient"
)

func main() {
	if err := posclient.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
