package main

import "github.com/chatdeskhq/chatdesk/cmd"

func main() {
	cmd.Execute()
}
