// Command kenoctl is the terminal client for keno.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/sakif/keno-client/internal/cli"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	err := cli.NewRootCommand().Execute()
	os.Exit(cli.GetExitCode(err))
}
