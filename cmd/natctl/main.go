// Command natctl is the CLI client for the gonatd daemon's admin surface.
package main

import "github.com/dantte-lp/gonat/cmd/natctl/commands"

func main() {
	commands.Execute()
}
