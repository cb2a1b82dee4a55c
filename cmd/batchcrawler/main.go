// The main package for the batchcrawler executable.
package main

import (
	"github.com/JakeFAU/batch-crawler/cmd"
)

func main() {
	cmd.Execute()
}
