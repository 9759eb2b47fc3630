// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command runnabled runs a formation of services declared in its
// configuration file, and serves a control API for them.
//
// Subcommands are
//
//	run       - run the services (the default)
//	hash      - print a bcrypt hash of a password, for auth.password_hash
//
// The process strategy runs each instance by starting runnabled again
// with the hidden _service subcommand.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/gdamore/runnable"
)

var (
	flagConfig string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", DefaultConfigFile, "configuration file")
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(serviceCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Printf("runnabled: %v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "runnabled",
	Short:        "Run and supervise a formation of services",
	SilenceUsage: true,
	RunE:         doRun,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the configured services until stopped",
	RunE:  doRun,
}

var hashCmd = &cobra.Command{
	Use:   "hash [password]",
	Short: "print a bcrypt hash of a password",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doHash,
}

var serviceCmd = &cobra.Command{
	Use:    "_service",
	Short:  "internal command",
	Hidden: true,
	RunE:   doService,
}

// configRequired reports whether the config file was named explicitly,
// in which case it must exist.
func configRequired(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("config")
}

func doRun(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(flagConfig, configRequired(cmd))
	if err != nil {
		return err
	}
	d := newDaemon(flagConfig, cfg, log.New(os.Stderr, "", log.LstdFlags))
	return d.serve(cmd.Context())
}

func doService(cmd *cobra.Command, args []string) error {
	if !runnable.IsChild() {
		return runnable.ErrNotChild
	}
	cfg, err := LoadConfig(flagConfig, configRequired(cmd))
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	os.Exit(runnable.ServeChild(cmd.Context(), reg, log.New(os.Stderr, "", 0)))
	return nil
}

func doHash(cmd *cobra.Command, args []string) error {
	var pass []byte
	if len(args) == 1 {
		pass = []byte(args[0])
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		pass = b
	}
	hash, err := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
