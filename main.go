// The main package for the article2md executable.
package main

import (
	"github.com/JakeFAU/article2md/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
