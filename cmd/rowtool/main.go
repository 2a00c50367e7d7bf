// Command rowtool inspects and edits rowstore snapshot files.
package main

import (
	"os"

	"github.com/andreyvit/rowstore/cmd/rowtool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
