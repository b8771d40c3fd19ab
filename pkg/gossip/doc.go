// Package gossip manages cluster membership, failure detection and rumor
// dissemination for the local member.
//
// Members probe each other using SWIM. Each round the local member pings a
// target, and if the target doesn't acknowledge, asks other members to ping
// the target on its behalf. Members that don't respond are marked suspect,
// then confirmed once the suspicion times out, then departed.
//
// Alongside membership, members exchange typed rumors (services, service
// configs, service files, elections and departures) which are merged using
// per-kind rules. Every round the least gossiped rumors are pushed to a
// random subset of live members, so the cluster converges on a consistent
// view even when messages are lost.
package gossip
