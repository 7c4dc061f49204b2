// Command zargo inspects, migrates and rewrites .zargo project archives.
package main

import "github.com/mesh-intelligence/zargo/internal/cli"

func main() {
	cli.Execute()
}
