// The main package for the previewd executable.
package main

import (
	"github.com/JakeFAU/link-preview/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
