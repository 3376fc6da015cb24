package main

import "github.com/devicelab-dev/ride-scanner/pkg/cli"

func main() {
	cli.Execute()
}
