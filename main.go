package main

import "github.com/tapevault/bstored/cmd"

func main() {
	cmd.Execute()
}
