package main

import "github.com/nextlevelbuilder/autoreply/cmd"

func main() {
	cmd.Execute()
}
