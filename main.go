package main

import "github.com/ngld/flybuild/cmd"

func main() {
	cmd.Execute()
}
