package main

import "github.com/qdash-dev/copilot/internal/cmd"

func main() {
	cmd.Execute()
}
