package main

import "github.com/codepair/collab/cmd"

func main() {
	cmd.Execute()
}
