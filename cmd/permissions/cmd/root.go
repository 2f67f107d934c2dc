// Package cmd implements the permissions CLI commands.
//
// The command structure follows a root command that dispatches to
// subcommands (config, request).
package cmd

import (
	"fmt"
	"io"
	"os"
)

// Version information set at build time.
var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
)

// Command represents a CLI command.
type Command struct {
	Name  string
	Short string
	Long  string
	Usage string
	Run   func(args []string) error
}

var rootCmd = struct {
	Long  string
	Usage string
	subs  []*Command
}{
	Long: `permissions checks and requests Android runtime permissions through the
permission coordinator, using a simulated native host.

Use "permissions <command> --help" for more information about a command.`,
	Usage: "permissions <command> [flags]",
}

var commands = make(map[string]*Command)

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// RegisterCommand adds a command to the CLI.
func RegisterCommand(cmd *Command) {
	commands[cmd.Name] = cmd
	rootCmd.subs = append(rootCmd.subs, cmd)
}

// Execute runs the CLI with the given arguments. Errors are printed to stderr
// before being returned.
func Execute(args []string) error {
	if len(args) == 0 {
		printHelp()
		return nil
	}

	switch args[0] {
	case "-h", "--help", "help":
		printHelp()
		return nil
	case "-v", "--version", "version":
		fmt.Fprintf(stdout, "permissions version %s (built %s)\n", Version, BuildTime)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}

	for _, arg := range args[1:] {
		if arg == "-h" || arg == "--help" || arg == "help" {
			printCommandHelp(cmd)
			return nil
		}
	}

	if err := cmd.Run(args[1:]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func printHelp() {
	fmt.Fprintln(stdout, rootCmd.Long)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Usage:")
	fmt.Fprintf(stdout, "  %s\n", rootCmd.Usage)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	for _, sub := range rootCmd.subs {
		fmt.Fprintf(stdout, "  %-14s %s\n", sub.Name, sub.Short)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Flags:")
	fmt.Fprintln(stdout, "  -h, --help           Show help for a command")
	fmt.Fprintln(stdout, "  -v, --version        Show version information")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Examples:")
	fmt.Fprintln(stdout, "  permissions config                                  Show resolved configuration")
	fmt.Fprintln(stdout, "  permissions request --deny android.permission.CAMERA  Simulate a denied prompt")
}

func printCommandHelp(cmd *Command) {
	fmt.Fprintln(stdout, cmd.Long)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Usage:")
	fmt.Fprintf(stdout, "  %s\n", cmd.Usage)
}
