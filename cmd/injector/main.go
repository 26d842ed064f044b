// Command injector promotes tracked source changes into release trees
package main

import (
	"os"

	"github.com/injector/injector/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
