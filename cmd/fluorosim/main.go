package main

import "github.com/bryanchriswhite/FluoroSim/cmd/fluorosim/commands"

func main() {
	commands.Execute()
}
