//go:build integration

package integration_test

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestHousekeeper(t *testing.T) {
	const cmdName = "housekeeper"

	ctx := t.Context()

	istat := initInfra(t, cmdName)
	defer istat.Close(ctx)

	istat.PreparePostgres(t)
	istat.Cfg.Housekeeper.TriggerInterval = time.Second
	istat.PrepareConfig(t)

	commandCtx, cancelCommand := context.WithTimeout(ctx, 5*time.Second)
	defer cancelCommand()

	cmd := istat.Command(t, commandCtx, cmdName)
	if err := cmd.Run(); err != nil && !errors.Is(err, context.Canceled) {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Sys().(syscall.WaitStatus).Signaled() {
			t.Fatalf("housekeeper process exited abnormally: %s", err)
		}
	}
}
