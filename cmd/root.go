/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/rotblauer/treetiles/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string
var optVerbosity string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "treetiles",
	Short: "Multi-resolution tile cache and query coalescer for point data",
	Long: `treetiles precomputes tile-indexed tables for a large set of map points
(trees, with an optional per-species enrichment), so that a map client can
serve low zooms from aggregate tables and detail zooms from range lookups.

It also simulates how many detail queries a scripted camera animation issues
under each coalescing policy, and benchmarks the query strategies.

Config values are read from $HOME/.treetiles.yaml and TREETILES_* environment
variables, keyed by flag name; flags given on the command line win.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.treetiles.yaml)")
	rootCmd.PersistentFlags().StringVar(&optVerbosity, "verbosity", "info", "Log level: debug, info, warn, error")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".treetiles")
	}

	viper.SetEnvPrefix("TREETILES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
	bindFlags(rootCmd)
}

// bindFlags sets every flag not given on the command line from viper, if viper has it.
func bindFlags(cmd *cobra.Command) {
	set := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Changed || !viper.IsSet(f.Name) {
				return
			}
			if err := fs.Set(f.Name, viper.GetString(f.Name)); err != nil {
				slog.Warn("Ignoring config value", "flag", f.Name, "error", err)
			}
		})
	}
	set(cmd.PersistentFlags())
	set(cmd.Flags())
	for _, c := range cmd.Commands() {
		bindFlags(c)
	}
}

func setDefaultSlog(cmd *cobra.Command, args []string) {
	level := common.ParseSlogLevel(optVerbosity)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Debug("Command", "name", cmd.Name(), "args", args)
}
