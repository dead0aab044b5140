package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the instruments that can be opened",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		addrs, err := buildManager(cfg).ListResources()
		if err != nil {
			jww.WARN.Println(err)
		}
		if len(addrs) == 0 {
			fmt.Fprintln(os.Stderr, "No instruments found")
			os.Exit(1)
		}
		for i, addr := range addrs {
			fmt.Printf("%d-%s\n", i, addr)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
