package walb

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wal-g/tracelog"

	"github.com/walb-linux/walb-tools-pkg/internal/config"
)

const WalbShortDescription = "WalB log and diff manipulation tool"

// These variables are here only to show current version. They are set in makefile during build process
var WalbVersion = "devel"
var GitRevision = "devel"
var BuildDate = "devel"

var WalbCmd = &cobra.Command{
	Use:     "walb",
	Short:   WalbShortDescription,
	Version: WalbVersion + "\t" + GitRevision + "\t" + BuildDate,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := config.ConfigureLogging()
		tracelog.ErrorLogger.FatalOnError(err)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the WalbCmd.
func Execute() {
	if err := WalbCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitConfig)
	WalbCmd.InitDefaultVersionFlag()
}
