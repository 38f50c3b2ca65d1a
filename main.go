package main

import "github.com/spindle-dl/spindle/cmd"

func main() {
	cmd.Execute()
}
