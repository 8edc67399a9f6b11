// Package postgres implements dtm.PeerSource against a single flat
// table of known DTM instances. No ORM: {service_id, address} doesn't
// earn migrations or a query builder, so this talks to PostgreSQL
// through jackc/pgx/v5 directly. The table has no service-kind column:
// every row is taken to be a DTM peer, and no filtering by kind is done.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortx-motr/dtm/internal/dtm"
)

// selectPeersSQL reads the table below. Callers are expected to create
// it themselves (no migration tooling is pulled in for one table):
//
//	CREATE TABLE dtm_peers (
//	    service_id UUID PRIMARY KEY,
//	    address    TEXT NOT NULL
//	);
const selectPeersSQL = `SELECT service_id, address FROM dtm_peers`

// Source is a dtm.PeerSource backed by a PostgreSQL connection pool.
type Source struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and returns a Source ready to list peers.
func Open(ctx context.Context, dsn string) (*Source, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dtmpeers/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dtmpeers/postgres: ping: %w", err)
	}
	return &Source{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Source) Close() {
	s.pool.Close()
}

// Peers implements dtm.PeerSource by scanning the dtm_peers table.
func (s *Source) Peers(ctx context.Context) ([]dtm.PeerInfo, error) {
	rows, err := s.pool.Query(ctx, selectPeersSQL)
	if err != nil {
		return nil, fmt.Errorf("dtmpeers/postgres: query peers: %w", err)
	}
	defer rows.Close()

	var peers []dtm.PeerInfo
	for rows.Next() {
		var p dtm.PeerInfo
		if err := rows.Scan(&p.ID, &p.Addr); err != nil {
			return nil, fmt.Errorf("dtmpeers/postgres: scan peer: %w", err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dtmpeers/postgres: iterate peers: %w", err)
	}
	return peers, nil
}
