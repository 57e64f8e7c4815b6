package main

import "github.com/spanwire/spanwire/cmd/spanctl/cmd"

func main() {
	cmd.Execute()
}
