package main

import (
	"EchoMark/cmd"
)

func main() {
	cmd.Execute()
}
