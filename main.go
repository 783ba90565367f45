package main

import "github.com/confideapp/confide/cmd"

func main() {
	cmd.Execute()
}
