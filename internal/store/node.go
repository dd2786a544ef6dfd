package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/postgres"
)

const nodeColumns = `uuid, env, hostname, interface, status, last_heartbeat_at, modified_at`

func scanNode(row pgx.Row) (cache.Node, error) {
	var n cache.Node
	if err := row.Scan(&n.UUID, &n.Env, &n.Hostname, &n.Interface, &n.Status, &n.LastHeartbeatAt, &n.ModifiedAt); err != nil {
		return cache.Node{}, fmt.Errorf("scan node: %w", err)
	}
	return n, nil
}

const inboundColumns = `id, node_id, tag, port, stream_settings, wg_public_key, wg_private_key, wg_allowed_ip,
	uplink, downlink, conn_count`

func scanInbound(row pgx.Row) (cache.InboundSpec, error) {
	var (
		s              cache.InboundSpec
		streamSettings []byte
		wgPub, wgPriv, wgAllowed *string
	)
	err := row.Scan(&s.ID, &s.NodeID, &s.Tag, &s.Port, &streamSettings, &wgPub, &wgPriv, &wgAllowed,
		&s.Uplink, &s.Downlink, &s.ConnCount)
	if err != nil {
		return cache.InboundSpec{}, fmt.Errorf("scan inbound: %w", err)
	}
	if len(streamSettings) > 0 {
		s.StreamSettings = json.RawMessage(streamSettings)
	}
	if wgPub != nil || wgPriv != nil || wgAllowed != nil {
		s.WG = &cache.WireguardParams{}
		if wgPub != nil {
			s.WG.PublicKey = *wgPub
		}
		if wgPriv != nil {
			s.WG.PrivateKey = *wgPriv
		}
		if wgAllowed != nil {
			s.WG.AllowedIP = *wgAllowed
		}
	}
	return s, nil
}

// NodeRepository persists nodes and their inbound specs to Postgres.
type NodeRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewNodeRepository(db *pgxpool.Pool, logger zerolog.Logger) *NodeRepository {
	return &NodeRepository{db: db, log: logger}
}

func (r *NodeRepository) Insert(ctx context.Context, n cache.Node) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO nodes (`+nodeColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			n.UUID, n.Env, n.Hostname, n.Interface, n.Status, n.LastHeartbeatAt, n.ModifiedAt,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert node: %w", err)
		}
		return insertInbounds(ctx, tx, n.UUID, n.Inbounds)
	})
}

func insertInbounds(ctx context.Context, tx pgx.Tx, nodeID ident.ID, inbounds []cache.InboundSpec) error {
	for _, spec := range inbounds {
		var wgPub, wgPriv, wgAllowed *string
		if spec.WG != nil {
			wgPub, wgPriv, wgAllowed = &spec.WG.PublicKey, &spec.WG.PrivateKey, &spec.WG.AllowedIP
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO inbounds (`+inboundColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			spec.ID, nodeID, spec.Tag, spec.Port, []byte(spec.StreamSettings), wgPub, wgPriv, wgAllowed,
			spec.Uplink, spec.Downlink, spec.ConnCount,
		)
		if err != nil {
			return fmt.Errorf("insert inbound: %w", err)
		}
	}
	return nil
}

// UpdateStatus is the target of UpdateNodeStatus sync tasks: a narrow PATCH of (status, last_heartbeat_at,
// modified_at) so a heartbeat tick does not need to round-trip every inbound spec.
func (r *NodeRepository) UpdateStatus(ctx context.Context, n cache.Node) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE nodes SET status=$2, last_heartbeat_at=$3, modified_at=$4 WHERE uuid=$1`,
		n.UUID, n.Status, n.LastHeartbeatAt, n.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update node status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a node and its inbounds.
func (r *NodeRepository) GetByID(ctx context.Context, id ident.ID) (cache.Node, error) {
	n, err := scanNode(r.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE uuid=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cache.Node{}, ErrNotFound
		}
		return cache.Node{}, err
	}
	inbounds, err := r.listInbounds(ctx, id)
	if err != nil {
		return cache.Node{}, err
	}
	n.Inbounds = inbounds
	return n, nil
}

func (r *NodeRepository) listInbounds(ctx context.Context, nodeID ident.ID) ([]cache.InboundSpec, error) {
	rows, err := r.db.Query(ctx, `SELECT `+inboundColumns+` FROM inbounds WHERE node_id=$1 ORDER BY id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list inbounds: %w", err)
	}
	defer rows.Close()

	var out []cache.InboundSpec
	for rows.Next() {
		s, err := scanInbound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListAll returns every node with its inbounds, used to rebuild the cache on startup.
func (r *NodeRepository) ListAll(ctx context.Context) ([]cache.Node, error) {
	rows, err := r.db.Query(ctx, `SELECT `+nodeColumns+` FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("list all nodes: %w", err)
	}
	var nodes []cache.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range nodes {
		inbounds, err := r.listInbounds(ctx, nodes[i].UUID)
		if err != nil {
			return nil, err
		}
		nodes[i].Inbounds = inbounds
	}
	return nodes, nil
}

// UpdateInboundStat writes per-inbound aggregate counters (uplink, downlink, conn_count).
func (r *NodeRepository) UpdateInboundStat(ctx context.Context, inboundID ident.ID, uplink, downlink int64, connCount int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE inbounds SET uplink=$2, downlink=$3, conn_count=$4 WHERE id=$1`,
		inboundID, uplink, downlink, connCount,
	)
	if err != nil {
		return fmt.Errorf("update inbound stat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
