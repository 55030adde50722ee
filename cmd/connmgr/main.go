package main

import (
	"os"

	"github.com/nmoagit/x121-sub001/cmd/connmgr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
