// Command credgate-keygen creates credentials and signs test requests.
//
//	credgate-keygen apikey --client-id svc-1 [--config config.yaml]
//	credgate-keygen signing --client-id svc-1 [--config config.yaml]
//	credgate-keygen deactivate --id <credential-id> --config config.yaml
//	credgate-keygen sign --client-id svc-1 --secret <secret> --method POST --path /v1/orders --body '{}'
//
// With --config, new credentials are written to the configured store.
// Without it they are only printed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// command is one keygen subcommand.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, out io.Writer) error
}

func commands() []command {
	return []command{
		{"apikey", "generate an API key with its salted hash", runAPIKey},
		{"signing", "generate a request signing secret", runSigning},
		{"deactivate", "mark a signing credential inactive", runDeactivate},
		{"sign", "print the headers of a signed request", runSign},
	}
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(out)
		return nil
	}
	for _, c := range commands() {
		if c.name == args[0] {
			err := c.run(ctx, args[1:], out)
			if errors.Is(err, pflag.ErrHelp) {
				return nil
			}
			return err
		}
	}
	return fmt.Errorf("unknown command %q (run credgate-keygen help)", args[0])
}

func printUsage(out io.Writer) {
	var b strings.Builder
	b.WriteString("Usage: credgate-keygen <command> [flags]\n\nCommands:\n")
	for _, c := range commands() {
		fmt.Fprintf(&b, "  %-11s %s\n", c.name, c.summary)
	}
	io.WriteString(out, b.String())
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("credgate-keygen "+name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}
