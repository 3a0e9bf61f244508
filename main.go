package main

import "github.com/iksnae/medichat/cmd"

func main() {
	cmd.Execute()
}
