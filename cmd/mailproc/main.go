package main

import "mailproc/internal/cli"

func main() {
	cli.Execute()
}
