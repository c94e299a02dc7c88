package walb

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/wal-g/tracelog"

	internalwalb "github.com/walb-linux/walb-tools-pkg/internal/walb"
	"github.com/walb-linux/walb-tools-pkg/internal/config"
	"github.com/walb-linux/walb-tools-pkg/internal/merge"
	"github.com/walb-linux/walb-tools-pkg/utility"
)

const (
	WdiffMergeShortDescription = "Merges wdiff files, newer ones winning"
	MergeOutputFlag            = "output"
	MergeOutputShorthand       = "o"
	MergeUncompressedFlag      = "uncompressed"
	MergeUncompressedShorthand = "c"
	ValidateUuidFlag           = "validate-uuid"
)

var (
	wdiffMergeCmd = &cobra.Command{
		Use:   "wdiff-merge wdiff_path...",
		Short: WdiffMergeShortDescription,
		Long:  "Merges wdiff files into one. Arguments are given oldest first.",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := handleWdiffMerge(args)
			tracelog.ErrorLogger.FatalOnError(err)
		},
	}
	mergeOutputPath   = ""
	mergeMaxIoBlocks  = uint16(0)
	mergeUncompressed = false
	mergeValidateUuid = false
)

func handleWdiffMerge(paths []string) error {
	cmprType, err := compressionTypeFromName(compressionName)
	if err != nil {
		return err
	}
	if mergeUncompressed {
		cmprType = internalwalb.CmprNone
	}

	maxIoBlocks := mergeMaxIoBlocks
	if maxIoBlocks == 0 {
		maxIoBlocks = config.MaxIoBlocks()
	}
	merger := merge.NewMerger(config.MergeBufferLb())
	merger.SetMaxIoBlocks(maxIoBlocks)
	merger.SetShouldValidateUuid(mergeValidateUuid)
	for _, path := range paths {
		if err := merger.AddWdiffFile(path); err != nil {
			return err
		}
	}

	var out *os.File
	if mergeOutputPath == "" || mergeOutputPath == "-" {
		out = os.Stdout
	} else {
		f, err := os.Create(mergeOutputPath)
		if err != nil {
			return err
		}
		defer utility.LoggedClose(f, "failed to close wdiff output")
		out = f
	}
	return merger.MergeTo(out, cmprType)
}

func init() {
	wdiffMergeCmd.Flags().StringVarP(&mergeOutputPath, MergeOutputFlag, MergeOutputShorthand, "",
		"merged wdiff output file (default stdout)")
	wdiffMergeCmd.Flags().Uint16VarP(&mergeMaxIoBlocks, MaxIoBlocksFlag, MaxIoBlocksShorthand, 0,
		"maximum io size of output records [logical blocks], 0 means unlimited")
	wdiffMergeCmd.Flags().StringVar(&compressionName, CompressionFlag, "snappy",
		"payload compression: none or snappy")
	wdiffMergeCmd.Flags().BoolVarP(&mergeUncompressed, MergeUncompressedFlag, MergeUncompressedShorthand, false,
		"do not compress the output payloads")
	wdiffMergeCmd.Flags().BoolVar(&mergeValidateUuid, ValidateUuidFlag, false,
		"require all inputs to share one uuid")
	WalbCmd.AddCommand(wdiffMergeCmd)
}
