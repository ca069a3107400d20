// Command seqreg trains an RNN regression over token sequences read from
// CSV files and reports validation metrics as it goes.
package main

import (
	"fmt"
	"os"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

func allCommands() *commander.Command {
	return &commander.Command{
		UsageLine: os.Args[0],
		Subcommands: []*commander.Command{
			trainCmd(),
			versionCmd(),
		},
		Flag: *flag.NewFlagSet("seqreg", flag.ExitOnError),
	}
}

func main() {
	cmd := allCommands()
	if err := cmd.Flag.Parse(os.Args[1:]); err != nil {
		fmt.Printf("**err**: %v\n", err)
		os.Exit(1)
	}
	if err := cmd.Dispatch(cmd.Flag.Args()); err != nil {
		fmt.Printf("**err**: %v\n", err)
		os.Exit(1)
	}
}
