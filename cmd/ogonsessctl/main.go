// ogonsessctl is the CLI client for ogon-sessiond's OTSAPI administrative
// HTTP surface (spec.md §4.9).
package main

import "github.com/ogon-project/ogon-sessiond/cmd/ogonsessctl/commands"

func main() {
	commands.Execute()
}
