package cli

import (
	"github.com/spf13/cobra"

	"github.com/andydunstall/murmur/cli/agent"
	"github.com/andydunstall/murmur/cli/ringkey"
	"github.com/andydunstall/murmur/cli/status"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "murmur [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `murmur is a gossip based cluster membership and rumor service.

Each member runs a murmur agent. Agents detect failed members using the SWIM
failure detector, and propagate rumors to the rest of the cluster, such as
the services each member runs, service configuration and files, and leader
elections within a service group.

Start an agent with:

  $ murmur agent

Start an agent and join an existing cluster with:

  $ murmur agent --cluster.join 10.26.104.14

You can inspect the status of an agent using:

  $ murmur status

To encrypt gossip traffic, generate a ring key and pass it to every agent:

  $ murmur ring-key generate prod --output ring.key
  $ murmur agent --ring-key.path ring.key
`,
	}

	cmd.AddCommand(agent.NewCommand())
	cmd.AddCommand(status.NewCommand())
	cmd.AddCommand(ringkey.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
