// The main package for the poemcrawler executable.
package main

import (
	"github.com/JakeFAU/poem-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
