package main

import (
	"os"

	"github.com/actionpipe/actionpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
