package ringkey

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andydunstall/murmur/pkg/ringkey"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ring-key",
		Short: "manage ring keys",
		Long: `Manage ring keys.

A ring key is a symmetric key shared by every member of the cluster, used to
encrypt gossip traffic. Members with a different key, or no key, cannot
communicate with the cluster.

Examples:
  # Generate a ring key named 'prod' and write it to ring.key.
  murmur ring-key generate prod --output ring.key
`,
	}

	cmd.AddCommand(newGenerateCommand())

	return cmd
}

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [name]",
		Args:  cobra.ExactArgs(1),
		Short: "generate a ring key",
		Long: `Generate a ring key.

Generates a new random ring key with the given name. A revision timestamp is
appended to the name so keys can be rotated.

The key is written to stdout unless '--output' is given.

Examples:
  murmur ring-key generate prod

  murmur ring-key generate prod --output /etc/murmur/ring.key
`,
	}

	var output string
	cmd.Flags().StringVar(
		&output,
		"output",
		"",
		`
Path to write the key to. The file is created with mode 0600.`,
	)

	cmd.Run = func(cmd *cobra.Command, args []string) {
		key, err := ringkey.Generate(args[0])
		if err != nil {
			fmt.Printf("failed to generate key: %s\n", err.Error())
			os.Exit(1)
		}

		if output == "" {
			fmt.Print(string(key.Encode()))
			return
		}

		if err := os.WriteFile(output, key.Encode(), 0o600); err != nil {
			fmt.Printf("failed to write key: %s: %s\n", output, err.Error())
			os.Exit(1)
		}
		fmt.Printf("generated ring key %s: %s\n", key.Name, output)
	}

	return cmd
}
