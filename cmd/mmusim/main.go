// Command mmusim simulates a memory management unit with a slow backing store
// and a write-back cache.
package main

import "github.com/sarchlab/mmusim/cmd/mmusim/cmd"

func main() {
	cmd.Execute()
}
