package main

import (
	"os"

	"github.com/roach88/anvil/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
