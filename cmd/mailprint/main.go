// Command mailprint prints the attachments of unread mail.
//
// Usage:
//
//	mailprint [run] [--config path] [--watch interval]
//	mailprint setup [--config path]
//	mailprint history [--config path] [--limit n] [--run id] [--plain]
//	mailprint classify [--config path] file...
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const usage = `mailprint prints the attachments of unread mail.

Commands:
  run        fetch unread mail, convert and print attachments (default)
  setup      interactive configuration of mailbox, printer and notifications
  history    show past runs from the journal
  classify   show how files would be converted

Run "mailprint <command> --help" for the flags of a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	name := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	var err error
	switch name {
	case "run":
		err = runCommand(args, stderr)
	case "setup":
		err = setupCommand(args, stderr)
	case "history":
		err = historyCommand(args, stdout, stderr)
	case "classify":
		err = classifyCommand(args, stdout, stderr)
	case "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	default:
		fmt.Fprintf(stderr, "mailprint %s: %v\n", name, err)
		return 1
	}
}

// newFlagSet creates a flag set with the options shared by every command.
func newFlagSet(name string, stderr io.Writer, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(configPath, "config", "c", "", "config file (default ~/.config/mailprint/config.yaml)")
	return fs
}
