package main

import (
	"context"

	"sjscal/cmd/sjscal/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
