package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/andydunstall/murmur/pkg/gossip"
)

type Gossip struct {
	client *Client
}

func NewGossip(client *Client) *Gossip {
	return &Gossip{
		client: client,
	}
}

func (c *Gossip) Members() ([]gossip.MemberState, error) {
	r, err := c.client.Request("/status/gossip/members")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var members []gossip.MemberState
	if err := decode(r, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Gossip) Member(memberID string) (*gossip.MemberState, error) {
	r, err := c.client.Request("/status/gossip/members/" + url.PathEscape(memberID))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var member gossip.MemberState
	if err := decode(r, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// Depart originates a departure rumor for the member with the given ID.
func (c *Gossip) Depart(memberID string) error {
	r, err := c.client.Post(
		"/status/gossip/members/" + url.PathEscape(memberID) + "/depart",
	)
	if err != nil {
		return err
	}
	return r.Close()
}

// Rumors returns the known rumors of the given kind. If key is not empty,
// only rumors with that key are returned.
//
// Rumors are returned as generic maps since the fields depend on the kind.
func (c *Gossip) Rumors(kind string, key string) ([]map[string]any, error) {
	path := "/status/gossip/rumors/" + url.PathEscape(kind)
	if key != "" {
		path += "/" + url.PathEscape(key)
	}

	r, err := c.client.Request(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var rumors []map[string]any
	if err := decode(r, &rumors); err != nil {
		return nil, err
	}
	return rumors, nil
}

func decode(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
