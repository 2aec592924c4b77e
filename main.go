package main

import "github.com/maximthomas/goradius/cmd"

func main() {
	cmd.Execute()
}
