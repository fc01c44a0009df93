package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mcpdash",
		Long:  `All software has versions. This is mcpdash's.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcpdash version %s\n", rootCmd.Version)
		},
	}
}
