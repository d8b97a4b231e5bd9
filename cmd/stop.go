package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wpphttpd/wpphttpd/internal/httpd"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running instance (named by --pid-file) to shut down",
	RunE: func(c *cobra.Command, args []string) error {
		if err := httpd.Stop(cfg.PidFile); err != nil {
			return err
		}
		fmt.Println("sent SIGTERM")
		return nil
	},
}
