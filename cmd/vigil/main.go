// vigil — security control plane for plan execution.
// One process, one plan, one verdict.
package main

import "github.com/vigilcore/vigil/internal/cli"

func main() {
	cli.Execute()
}
