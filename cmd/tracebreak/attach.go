// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tracebreak/tracebreak/debugger"
)

var attachCmd = &cobra.Command{
	Use:   "attach <pid> <path>",
	Short: "Seize an already-running process and start serving the adapter protocol",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		path := args[1]
		log := newLogger()
		facade := debugger.New(log)
		if _, err := facade.Attach(pid, path); err != nil {
			return err
		}
		return runAdapter(facade, log, adapterMode, oneshotCmd, oneshotArgs)
	},
}

func init() {
	attachCmd.Flags().StringVar(&adapterMode, "adapter", "stdio", "adapter transport: stdio or socket")
	attachCmd.Flags().StringVar(&oneshotCmd, "oneshot", "", "run this single adapter command and exit instead of serving")
	attachCmd.Flags().StringVar(&oneshotArgs, "oneshot-args", "", "JSON body for --oneshot")
	rootCmd.AddCommand(attachCmd)
}
