package main

import "github.com/ethpandaops/trace-decoder/cmd"

func main() {
	cmd.Execute()
}
