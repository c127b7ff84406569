package main

import "task-miner/cmd"

func main() {
	cmd.Execute()
}
