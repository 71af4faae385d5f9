package main

import "github.com/tanq16/extdl/cmd"

func main() {
	cmd.Execute()
}
