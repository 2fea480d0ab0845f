package main

import (
	"context"
	"steamcommunity/cmd/confirmd/commands"
	"steamcommunity/lib/configutil"
	"steamcommunity/lib/serviceutil"
)

func main() {
	configutil.LoadDotenv()

	ctx, cancel := serviceutil.SignalContext(context.Background())
	defer cancel()
	commands.ExecuteContext(ctx)
}
