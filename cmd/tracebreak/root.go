// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logFile  string
	logTrace bool
)

var rootCmd = &cobra.Command{
	Use:   "tracebreak",
	Short: "A source-level debugger for native Linux x86-64 programs",
	Long: `tracebreak attaches to or spawns a target process, controls it through
ptrace, and exposes breakpoints, stepping, stack, variable, memory, and
register inspection over a length-prefixed JSON protocol an IDE adapter
or one-shot script drives.`,
}

// Execute runs the root command; main.main's only job.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.tracebreak.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&logTrace, "log-trace", false, "enable trace-level logging of every ptrace operation")
	rootCmd.PersistentFlags().String("std-source", "", "path to the standard library's source (bound into the config; the source command does not read it)")
	viper.BindPFlag("std-source", rootCmd.PersistentFlags().Lookup("std-source"))

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tracebreak")
	}
	viper.SetEnvPrefix("tracebreak")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the session logger per --log-file/--log-trace.
func newLogger() *logrus.Entry {
	l := logrus.New()
	if logTrace {
		l.SetLevel(logrus.TraceLevel)
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			l.SetOutput(f)
		} else {
			l.WithError(err).Warn("could not open log file, logging to stderr")
		}
	}
	return logrus.NewEntry(l)
}
