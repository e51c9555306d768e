package main

import (
	"os"

	"github.com/lexreview/lexreview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
