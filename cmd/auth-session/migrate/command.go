package migrate

import (
	"github.com/spf13/cobra"

	"github.com/yogamat/auth-session/internal/business"
	"github.com/yogamat/auth-session/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Auth Session migrations",
		"Applies the database migrations of the postgres session backend",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
