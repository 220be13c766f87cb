package main

import "github.com/jmelchner/aDB/cmd"

func main() {
	cmd.Execute()
}
