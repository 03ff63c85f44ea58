package main

import "github.com/labarlab/func-archival/cmd"

func main() {
	cmd.Execute()
}
