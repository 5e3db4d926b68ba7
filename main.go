package main

import "github.com/Cropi/tcpflood/cmd"

func main() {
	cmd.Execute()
}
