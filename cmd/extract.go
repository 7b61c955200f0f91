package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"romdl/internal/extract"
	"romdl/internal/output"
	"romdl/utils"
)

var (
	extractDest   string
	extractDelete bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [archive]",
	Short: "Unpack a local archive (7z, zip, tar, tar.gz/bz2/xz) with progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		archivePath := args[0]
		dest := extractDest
		if dest == "" {
			dest = "."
		}
		task := extract.NewTask(archivePath, dest, func(done, total int64, status string) {
			if total > 0 {
				fmt.Printf("\r\033[K%s  %s / %s", status, utils.FormatBytes(uint64(done)), utils.FormatBytes(uint64(total)))
			} else {
				fmt.Printf("\r\033[K%s", status)
			}
		})
		err := task.Run()
		fmt.Println()
		if err != nil {
			output.PrintError(fmt.Sprintf("Extraction failed: %v", err))
			os.Exit(1)
		}
		if extractDelete {
			if err := os.Remove(archivePath); err != nil {
				output.PrintError(fmt.Sprintf("Could not delete archive: %v", err))
				os.Exit(1)
			}
		}
		output.PrintSuccess("Extraction complete")
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractDest, "dest", "d", "", "Destination directory (defaults to current directory)")
	extractCmd.Flags().BoolVar(&extractDelete, "delete", false, "Delete the archive after successful extraction")
	rootCmd.AddCommand(extractCmd)
}
