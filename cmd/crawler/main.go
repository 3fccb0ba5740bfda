package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
)

const version = "1.0.0"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Dependencies is bound into every command's Run method
type Dependencies struct {
	Ctx    context.Context
	Stdout io.Writer
	Stderr io.Writer
}

// run parses args and executes the selected command
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	deps := &Dependencies{Ctx: ctx, Stdout: stdout, Stderr: stderr}

	cli := &CLI{}
	exited := false
	parser, err := kong.New(cli,
		kong.Name("rule-crawler"),
		kong.Description("Concurrent rule-based web crawler"),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) { exited = true }), // Don't exit the process on help
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified. Run 'rule-crawler --help' to see available commands")
	}
	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	if exited {
		// Help was printed for a subcommand; nothing else to do
		return nil
	}
	return kongCtx.Run(&cli.Globals)
}
