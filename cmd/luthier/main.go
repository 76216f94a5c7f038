package main

import (
	"os"

	"github.com/luthierworks/luthier/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
