package main

import "romdl/cmd"

func main() {
	cmd.Execute()
}
