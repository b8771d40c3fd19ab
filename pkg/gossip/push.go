package gossip

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/murmur/pkg/log"
)

// streamSender sends a message to the member at the given address over a
// stream.
type streamSender interface {
	SendStream(ctx context.Context, msg message, addr string) error
}

// pusher periodically pushes rumors to a random subset of live members.
type pusher struct {
	members *memberList
	stores  *rumorStores
	sender  streamSender

	fanout    int
	maxRumors int

	metrics *Metrics
	logger  log.Logger
}

func newPusher(
	members *memberList,
	stores *rumorStores,
	sender streamSender,
	config *Config,
	metrics *Metrics,
	logger log.Logger,
) *pusher {
	return &pusher{
		members:   members,
		stores:    stores,
		sender:    sender,
		fanout:    config.Fanout,
		maxRumors: config.MaxGossipRumors,
		metrics:   metrics,
		logger:    logger,
	}
}

// Round pushes a batch of the least gossiped rumors to up to fanout live
// members concurrently.
func (p *pusher) Round(ctx context.Context) {
	targets := p.members.LiveMembers()
	if len(targets) == 0 {
		return
	}
	if len(targets) > p.fanout {
		targets = targets[:p.fanout]
	}

	p.metrics.GossipRounds.Inc()

	memberships := p.members.SelectForGossip(p.maxRumors)
	batch := p.batch(memberships)

	sent := atomic.NewBool(false)
	var g errgroup.Group
	for _, target := range targets {
		target := target
		g.Go(func() error {
			if err := p.sender.SendStream(ctx, batch, target.Addr); err != nil {
				p.logger.Warn(
					"failed to push rumors",
					zap.String("member-id", target.ID),
					zap.Error(err),
				)
				return err
			}
			sent.Store(true)
			return nil
		})
	}
	// Failures are logged per target and retried next round.
	_ = g.Wait()

	if sent.Load() {
		p.members.MarkGossiped(memberships)
	}
}

func (p *pusher) batch(memberships []Membership) *rumors {
	local := p.members.LocalMember()
	batch := &rumors{
		From: newMemberRecord(Membership{
			Member: local.Member,
			Health: local.Health,
		}),
		Membership: newMemberRecords(memberships),
	}
	p.stores.selectForGossip(batch, p.maxRumors)
	return batch
}
