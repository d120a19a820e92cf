// Package main provides the entry point for the poiclip command line.
package main

import "github.com/maauso/poiclip/internal/cli"

func main() {
	cli.Main()
}
