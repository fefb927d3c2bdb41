package main

import "github.com/jmehdipour/messageboard/cmd"

func main() {
	cmd.Execute()
}
