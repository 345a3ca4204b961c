package main

import "github.com/agentic-research/bids2nda/cmd"

func main() {
	cmd.Execute()
}
