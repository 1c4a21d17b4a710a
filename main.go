package main

import "github.com/ethpandaops/validator-deposits/cmd"

func main() {
	cmd.Execute()
}
