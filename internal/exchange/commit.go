package exchange

// commitLocked applies every node's accumulated payload into the
// configured namespaces, in succession order, then swaps the committed
// snapshot. It assumes the caller already holds the exchange lock.
//
// For each namespace the engine first zeroes succession, cluster_versions
// and cluster_size. Then, for each node in the succession list in order, it
// parses that node's stored payload; for each namespace in the payload that
// is known locally, it appends the node to that namespace's succession
// (using the current cluster_size as index, then incrementing), and for
// each (vinfo, pids) group writes the vinfo into
// cluster_versions[node_index][pid] for every pid. Unknown namespaces are
// skipped with a warning but their payload bytes are still parsed past,
// since Decode has already consumed them regardless of whether the caller
// recognizes the name.
func (e *Exchange) commitLocked() {
	for _, ns := range e.namespaces {
		ns.resetCommitted()
	}

	for _, node := range e.round.succession {
		peer, ok := e.peers.Get(node)
		if !ok {
			// Invariant 2 guarantees this can't happen outside a reset;
			// tolerate it defensively rather than panic mid-commit.
			e.logger.Warnf("commit: node %d missing from peer table, skipping", node)
			continue
		}

		decoded, err := Decode(peer.Payload(), e.cfg.PartitionCount)
		if err != nil {
			e.logger.Warnf("commit: node %d payload invalid (%v), skipping", node, err)
			continue
		}

		for _, dns := range decoded {
			ns, known := e.nsIndex[dns.Name]
			if !known {
				e.logger.Warnf("commit: unknown namespace %q from node %d, skipped", dns.Name, node)
				continue
			}
			idx := ns.ClusterSize
			ns.Succession = append(ns.Succession, node)
			ns.growClusterVersions(idx+1, e.cfg.PartitionCount)
			for _, g := range dns.Groups {
				for _, pid := range g.Pids {
					if int(pid) < len(ns.ClusterVersions[idx]) {
						ns.ClusterVersions[idx][pid] = g.Vinfo
					}
				}
			}
			ns.ClusterSize = idx + 1
		}
	}

	e.committed = CommittedSnapshot{
		ClusterKey: e.round.clusterKey,
		Size:       len(e.round.succession),
		Succession: e.round.succession.Clone(),
		Principal:  e.round.principal,
	}
	e.metrics.IncCommit()
	e.balance.Balance()
}
