package main

import (
	"context"
	"vtopassist-backend/cmd/vtopassist/commands"
	"vtopassist-backend/lib/telemetry"
)

func main() {
	ctx := context.Background()
	if tel, err := telemetry.SetupFromEnv(ctx, "vtopassist"); err == nil {
		defer tel.Shutdown(ctx)
	}
	commands.ExecuteContext(ctx)
}
