// Command lmsseed seeds a freshly started LMS with a canonical dataset.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lmsseed/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
