package main

import "github.com/devicelab-dev/app-explorer/pkg/cli"

func main() {
	cli.Execute()
}
