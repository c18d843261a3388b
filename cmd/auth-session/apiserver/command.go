package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/yogamat/auth-session/internal/business"
	"github.com/yogamat/auth-session/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Auth Session API server",
		"Auth Session API server hosts the public login, callback, logout and session endpoints",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
