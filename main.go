package main

import (
	"github.com/mattfeng/progen/cmd"
)

func main() {
	cmd.Execute() // initialize cobra commands
}
