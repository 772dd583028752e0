package main

import (
	"fmt"
	"os"

	"pubcap/pkg/extcap"
)

func main() {
	if err := extcap.NewCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pubcap:", err)
		os.Exit(1)
	}
}
