package main

import "github.com/kevinboards/piperRobotAutoSystem/cmd"

func main() {
	cmd.Execute()
}
