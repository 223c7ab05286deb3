package main

import "overlaystudy/cmd"

func main() {
	cmd.Execute()
}
