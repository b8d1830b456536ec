package main

import "github.com/aqimebaby/aqialert/internal/cli"

func main() {
	cli.Execute()
}
