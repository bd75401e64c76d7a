package main

import "finmonitor/internal/cli"

func main() {
	cli.Execute()
}
