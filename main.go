package main

import "github.com/ttg-tools/timegrid/cmd"

func main() {
	cmd.Execute()
}
