package main

import "github.com/meanishn/platform/internal/cli"

func main() {
	cli.Execute()
}
