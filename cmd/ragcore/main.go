// Package main provides the entry point for the ragcore CLI.
package main

import (
	"fmt"
	"os"

	"github.com/gravis-app/ragcore/cmd/ragcore/cmd"
	rerrors "github.com/gravis-app/ragcore/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, rerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
