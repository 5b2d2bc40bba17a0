package main

import "famlink/cmd/famlink/cmd"

func main() {
	cmd.Execute()
}
