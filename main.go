package main

import "github.com/audiolibrelab/tapedeck/cmd"

func main() {
	cmd.Execute()
}
