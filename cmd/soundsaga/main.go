package main

import (
	"os"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/cli"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
