package main

import (
	"github.com/alvesdmateus/stack-orchestrator/internal/cli/commands"
)

func main() {
	commands.Execute()
}
