// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Agentmirror-keytool manages machine credentials outside the daemon.
//
// Subcommands:
//
//	backup   print the machine key as a checksummed backup phrase
//	restore  recover credentials from a backup phrase (re-authenticates)
//	export   write a passphrase-protected credential bundle
//	import   read a passphrase-protected credential bundle
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/agentmirror/agentmirror/auth"
	"github.com/agentmirror/agentmirror/lib/credstore"
	"github.com/agentmirror/agentmirror/relay"
	"github.com/agentmirror/agentmirror/seal"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: agentmirror-keytool <backup|restore|export|import> [flags]")
	}

	switch args[0] {
	case "backup":
		return runBackup(args[1:])
	case "restore":
		return runRestore(args[1:])
	case "export":
		return runExport(args[1:])
	case "import":
		return runImport(args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func runBackup(args []string) error {
	flags := pflag.NewFlagSet("backup", pflag.ContinueOnError)
	credentialsPath := flags.String("credentials", "", "credential file to back up (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *credentialsPath == "" {
		return fmt.Errorf("--credentials is required")
	}

	credentials, err := credstore.Load(*credentialsPath)
	if err != nil {
		return err
	}
	defer credentials.Close()

	phrase, err := seal.EncodeBackup(credentials.MachineKey)
	if err != nil {
		return err
	}
	fmt.Println(phrase)
	fmt.Fprintln(os.Stderr, "write this phrase down; anyone holding it controls the account")
	return nil
}

func runRestore(args []string) error {
	flags := pflag.NewFlagSet("restore", pflag.ContinueOnError)
	credentialsPath := flags.String("credentials", "", "where to write the recovered credentials (required)")
	relayURL := flags.String("relay", "", "relay base URL for re-authentication (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *credentialsPath == "" || *relayURL == "" {
		return fmt.Errorf("--credentials and --relay are required")
	}

	fmt.Fprint(os.Stderr, "backup phrase: ")
	reader := bufio.NewReader(os.Stdin)
	phrase, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading backup phrase: %w", err)
	}
	machineKey, err := seal.DecodeBackup(strings.TrimSpace(phrase))
	if err != nil {
		return err
	}
	defer machineKey.Close()

	client, err := relay.NewClient(relay.ClientConfig{RelayURL: *relayURL})
	if err != nil {
		return err
	}
	credentials, err := auth.Login(context.Background(), client, machineKey, nil)
	if err != nil {
		return err
	}
	defer credentials.Close()

	if err := credstore.Save(*credentialsPath, credentials); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "credentials restored to %s\n", *credentialsPath)
	return nil
}

func runExport(args []string) error {
	flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
	credentialsPath := flags.String("credentials", "", "credential file to export (required)")
	outputPath := flags.String("output", "", "bundle destination (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *credentialsPath == "" || *outputPath == "" {
		return fmt.Errorf("--credentials and --output are required")
	}

	credentials, err := credstore.Load(*credentialsPath)
	if err != nil {
		return err
	}
	defer credentials.Close()

	passphrase, err := readPassphrase(true)
	if err != nil {
		return err
	}

	bundle, err := credstore.Export(credentials, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outputPath, bundle, 0o600); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	fmt.Fprintf(os.Stderr, "bundle written to %s\n", *outputPath)
	return nil
}

func runImport(args []string) error {
	flags := pflag.NewFlagSet("import", pflag.ContinueOnError)
	bundlePath := flags.String("bundle", "", "bundle to import (required)")
	credentialsPath := flags.String("credentials", "", "where to write the credentials (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *bundlePath == "" || *credentialsPath == "" {
		return fmt.Errorf("--bundle and --credentials are required")
	}

	bundle, err := os.ReadFile(*bundlePath)
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}

	passphrase, err := readPassphrase(false)
	if err != nil {
		return err
	}

	credentials, err := credstore.Import(bundle, passphrase)
	if err != nil {
		return err
	}
	defer credentials.Close()

	if err := credstore.Save(*credentialsPath, credentials); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "credentials written to %s\n", *credentialsPath)
	return nil
}

// readPassphrase prompts on the controlling terminal with echo off.
// confirm re-prompts and compares, for newly chosen passphrases.
func readPassphrase(confirm bool) (string, error) {
	fmt.Fprint(os.Stderr, "passphrase: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	if confirm {
		fmt.Fprint(os.Stderr, "confirm passphrase: ")
		second, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}
