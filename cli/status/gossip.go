package status

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/andydunstall/murmur/pkg/gossip"
	"github.com/andydunstall/murmur/server/status/client"
)

func newGossipCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gossip",
		Short: "inspect gossip state",
	}

	cmd.AddCommand(newGossipMembersCommand(c))
	cmd.AddCommand(newGossipMemberCommand(c))
	cmd.AddCommand(newGossipRumorsCommand(c))
	cmd.AddCommand(newGossipDepartCommand(c))

	return cmd
}

func newGossipMembersCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "inspect gossip members",
		Long: `Inspect gossip members.

Queries the agent for the state of each known member in the cluster,
including the member health and incarnation.

Examples:
  murmur status gossip members
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipMembers(c)
	}

	return cmd
}

type gossipMembersOutput struct {
	Members []gossip.MemberState `json:"members"`
}

func showGossipMembers(c *client.Client) {
	gossip := client.NewGossip(c)

	members, err := gossip.Members()
	if err != nil {
		fmt.Printf("failed to get gossip members: %s\n", err.Error())
		os.Exit(1)
	}

	output := gossipMembersOutput{
		Members: members,
	}
	b, _ := yaml.Marshal(output)
	fmt.Println(string(b))
}

func newGossipMemberCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Args:  cobra.ExactArgs(1),
		Short: "inspect a gossip member",
		Long: `Inspect a gossip member.

Queries the agent for the known state of the member with the given ID.

Examples:
  murmur status gossip member 6d8bbc0e4e7e4a0a9d1b29d3b1f60c55
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipMember(args[0], c)
	}

	return cmd
}

func showGossipMember(memberID string, c *client.Client) {
	gossip := client.NewGossip(c)

	member, err := gossip.Member(memberID)
	if err != nil {
		fmt.Printf("failed to get gossip member: %s: %s\n", memberID, err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(member)
	fmt.Println(string(b))
}

func newGossipRumorsCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rumors [kind] [key]",
		Args:  cobra.RangeArgs(1, 2),
		Short: "inspect gossip rumors",
		Long: `Inspect gossip rumors.

Queries the agent for the known rumors of the given kind. The kind is one of
'membership', 'service', 'service_config', 'service_file', 'election' or
'departure'.

If a key is given, only rumors with that key are returned, such as the
rumors of a particular service group.

Examples:
  # Inspect all known services.
  murmur status gossip rumors service

  # Inspect the election of service group 'redis.default'.
  murmur status gossip rumors election redis.default
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		var key string
		if len(args) > 1 {
			key = args[1]
		}
		showGossipRumors(args[0], key, c)
	}

	return cmd
}

type gossipRumorsOutput struct {
	Rumors []map[string]any `json:"rumors"`
}

func showGossipRumors(kind string, key string, c *client.Client) {
	gossip := client.NewGossip(c)

	rumors, err := gossip.Rumors(kind, key)
	if err != nil {
		fmt.Printf("failed to get gossip rumors: %s: %s\n", kind, err.Error())
		os.Exit(1)
	}

	output := gossipRumorsOutput{
		Rumors: rumors,
	}
	b, _ := yaml.Marshal(output)
	fmt.Println(string(b))
}

func newGossipDepartCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depart",
		Args:  cobra.ExactArgs(1),
		Short: "depart a gossip member",
		Long: `Depart a gossip member.

Marks the member with the given ID as permanently departed. The departure is
propagated to the rest of the cluster, and the member is never considered
alive again, even if it is still running.

This can be used to remove a member that has been permanently shut down.

Examples:
  murmur status gossip depart 6d8bbc0e4e7e4a0a9d1b29d3b1f60c55
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		gossip := client.NewGossip(c)

		if err := gossip.Depart(args[0]); err != nil {
			fmt.Printf("failed to depart member: %s: %s\n", args[0], err.Error())
			os.Exit(1)
		}
	}

	return cmd
}
