package main

import "github.com/kozaktomas/presence-hub/cmd"

func main() {
	cmd.Execute()
}
