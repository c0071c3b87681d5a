package main

import "ankiforge/cmd"

func main() {
	cmd.Execute()
}
