// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"

	"github.com/tracebreak/tracebreak/debugger"
)

var (
	launchEnv   []string
	launchCwd   string
	adapterMode string
	oneshotCmd  string
	oneshotArgs string
)

var launchCmd = &cobra.Command{
	Use:   "launch <path> [-- args...]",
	Short: "Spawn path under tracing and start serving the adapter protocol",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, argv := args[0], args
		log := newLogger()
		facade := debugger.New(log)
		if _, err := facade.Launch(path, argv, launchEnv, launchCwd); err != nil {
			return err
		}
		return runAdapter(facade, log, adapterMode, oneshotCmd, oneshotArgs)
	},
}

func init() {
	launchCmd.Flags().StringArrayVar(&launchEnv, "env", nil, "environment variable (KEY=VALUE), may be repeated")
	launchCmd.Flags().StringVar(&launchCwd, "cwd", "", "working directory for the launched process")
	launchCmd.Flags().StringVar(&adapterMode, "adapter", "stdio", "adapter transport: stdio or socket")
	launchCmd.Flags().StringVar(&oneshotCmd, "oneshot", "", "run this single adapter command and exit instead of serving")
	launchCmd.Flags().StringVar(&oneshotArgs, "oneshot-args", "", "JSON body for --oneshot")
	rootCmd.AddCommand(launchCmd)
}
