package main

import "github.com/tanq16/rangefetch/cmd"

func main() {
	cmd.Execute()
}
