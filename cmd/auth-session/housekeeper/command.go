package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/yogamat/auth-session/internal/business"
	"github.com/yogamat/auth-session/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Auth Session Housekeeping job",
		"Auth Session Housekeeping job purges expired sessions of the postgres backend",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
