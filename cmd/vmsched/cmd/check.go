/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-vmsched"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check host virtualization support and validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := vmsched.Supported()
		if err != nil {
			fmt.Printf("hv support: error: %v\n", err)
		} else {
			fmt.Printf("hv support: %v\n", ok)
		}

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("config: invalid: %v\n", err)
			return err
		}
		defer logger.Sync()

		p, err := cfg.Scheduler.Partition()
		if err != nil {
			return err
		}
		fmt.Printf("config: ok (%d cpus, %d guests, tick %s, devices on cpu %d)\n",
			cfg.Scheduler.NumCPUs, p.Capacity(), cfg.Scheduler.TickInterval, cfg.Scheduler.DeviceOwner)
		return nil
	},
}
