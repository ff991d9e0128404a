package main

import "debugbridge/cmd/debugbridge/cmd"

func main() {
	cmd.Execute()
}
