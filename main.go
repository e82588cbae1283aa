// The main package for the lead-scraper executable.
package main

import (
	"os"

	"github.com/JakeFAU/lead-scraper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
