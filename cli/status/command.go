package status

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/andydunstall/murmur/server/status/client"
	"github.com/andydunstall/murmur/server/status/config"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect agent status",
		Long: `Inspect agent status.

Each murmur agent exposes a status API to inspect the state of the member,
this can be used to answer questions such as:
* What members does this agent know of and what is their health?
* What services are running in each service group?
* Who is the leader of a service group?

See 'status --help' for the availale commands.

Examples:
  # Inspect the known members in the cluster.
  murmur status gossip members

  # Inspect the known members of agent 10.26.104.56:7947.
  murmur status gossip members --server.url http://10.26.104.56:7947
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.PersistentFlags())

	c := client.NewClient(nil)

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("config: %s\n", err.Error())
			os.Exit(1)
		}

		url, _ := url.Parse(conf.Server.URL)
		c.SetURL(url)
		c.SetForward(conf.Forward)
	}

	cmd.AddCommand(newGossipCommand(c))

	return cmd
}
