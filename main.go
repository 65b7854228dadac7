package main

import "signalclaw/cmd"

func main() {
	cmd.Execute()
}
