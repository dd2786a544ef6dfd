package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/postgres"
)

// connectionColumns lists the columns returned by queries that produce a cache.Connection. Every method that scans
// into one must select these columns in this exact order.
const connectionColumns = `conn_id, user_id, proto_kind, wireguard_node_id, wireguard_public_key,
	wireguard_private_key, wireguard_allowed_ip, shadowsocks_password, xray_tag, status, "limit", trial, online,
	uplink, downlink, created_at, modified_at`

func scanConnection(row pgx.Row) (cache.Connection, error) {
	var (
		c                                             cache.Connection
		protoKind                                     string
		wgNodeID                                      *ident.ID
		wgPub, wgPriv, wgAllowed, ssPassword, xrayTag *string
	)
	err := row.Scan(
		&c.ConnID, &c.UserID, &protoKind, &wgNodeID, &wgPub, &wgPriv, &wgAllowed, &ssPassword, &xrayTag,
		&c.Status, &c.Limit, &c.Trial, &c.Online, &c.Uplink, &c.Downlink, &c.CreatedAt, &c.ModifiedAt,
	)
	if err != nil {
		return cache.Connection{}, fmt.Errorf("scan connection: %w", err)
	}

	switch protoKind {
	case "wireguard":
		params := cache.WireguardParams{}
		if wgPub != nil {
			params.PublicKey = *wgPub
		}
		if wgPriv != nil {
			params.PrivateKey = *wgPriv
		}
		if wgAllowed != nil {
			params.AllowedIP = *wgAllowed
		}
		var nodeID ident.ID
		if wgNodeID != nil {
			nodeID = *wgNodeID
		}
		c.Proto = cache.NewWireguardProto(nodeID, params)
	case "shadowsocks":
		pw := ""
		if ssPassword != nil {
			pw = *ssPassword
		}
		c.Proto = cache.NewShadowsocksProto(pw)
	default:
		tag := ident.Tag(protoKind)
		if xrayTag != nil {
			tag = ident.Tag(*xrayTag)
		}
		c.Proto = cache.NewXrayProto(tag)
	}
	return c, nil
}

// ConnectionRepository persists connections to Postgres.
type ConnectionRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewConnectionRepository(db *pgxpool.Pool, logger zerolog.Logger) *ConnectionRepository {
	return &ConnectionRepository{db: db, log: logger}
}

func protoColumns(p cache.Proto) (kind string, wgNodeID *ident.ID, wgPub, wgPriv, wgAllowed, ssPassword, xrayTag *string) {
	switch p.Kind {
	case cache.ProtoWireguard:
		kind = "wireguard"
		id := p.WireguardNodeID
		wgNodeID = &id
		wgPub, wgPriv, wgAllowed = &p.WireguardParams.PublicKey, &p.WireguardParams.PrivateKey, &p.WireguardParams.AllowedIP
	case cache.ProtoShadowsocks:
		kind = "shadowsocks"
		ssPassword = &p.ShadowsocksPassword
	default:
		kind = string(p.XrayTag)
		tag := string(p.XrayTag)
		xrayTag = &tag
	}
	return
}

// Insert writes a new connection row. A unique-violation is translated to ErrAlreadyExists so the sync worker can
// map it onto cache.AlreadyExist without retrying (§4.6).
func (r *ConnectionRepository) Insert(ctx context.Context, c cache.Connection) error {
	kind, wgNodeID, wgPub, wgPriv, wgAllowed, ssPassword, xrayTag := protoColumns(c.Proto)
	_, err := r.db.Exec(ctx,
		`INSERT INTO connections (`+connectionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ConnID, c.UserID, kind, wgNodeID, wgPub, wgPriv, wgAllowed, ssPassword, xrayTag,
		c.Status, c.Limit, c.Trial, c.Online, c.Uplink, c.Downlink, c.CreatedAt, c.ModifiedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// Update rewrites the full connection row (used for UpdateConn sync tasks, which carry a complete cache.Connection
// value).
func (r *ConnectionRepository) Update(ctx context.Context, c cache.Connection) error {
	kind, wgNodeID, wgPub, wgPriv, wgAllowed, ssPassword, xrayTag := protoColumns(c.Proto)
	tag, err := r.db.Exec(ctx,
		`UPDATE connections SET user_id=$2, proto_kind=$3, wireguard_node_id=$4, wireguard_public_key=$5,
		 wireguard_private_key=$6, wireguard_allowed_ip=$7, shadowsocks_password=$8, xray_tag=$9, status=$10,
		 "limit"=$11, trial=$12, online=$13, uplink=$14, downlink=$15, modified_at=$16
		 WHERE conn_id=$1`,
		c.ConnID, c.UserID, kind, wgNodeID, wgPub, wgPriv, wgAllowed, ssPassword, xrayTag,
		c.Status, c.Limit, c.Trial, c.Online, c.Uplink, c.Downlink, c.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStat writes just (online, uplink, downlink, modified_at), used by UpdateConnStat sync tasks so a stats-only
// tick does not need a full row image.
func (r *ConnectionRepository) UpdateStat(ctx context.Context, connID ident.ID, online, uplink, downlink int64, modifiedAt cache.Connection) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE connections SET online=$2, uplink=$3, downlink=$4, modified_at=$5 WHERE conn_id=$1`,
		connID, online, uplink, downlink, modifiedAt.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update connection stat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus writes just (status, modified_at), used by UpdateConnStatus sync tasks.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, connID ident.ID, status ident.ConnectionStatus, modifiedAt cache.Connection) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE connections SET status=$2, modified_at=$3 WHERE conn_id=$1`,
		connID, status, modifiedAt.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete marks a connection deleted.
func (r *ConnectionRepository) Delete(ctx context.Context, connID ident.ID) error {
	tag, err := r.db.Exec(ctx, `UPDATE connections SET status='deleted' WHERE conn_id=$1`, connID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a single connection by id.
func (r *ConnectionRepository) GetByID(ctx context.Context, id ident.ID) (cache.Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE conn_id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cache.Connection{}, ErrNotFound
		}
		return cache.Connection{}, err
	}
	return c, nil
}

// ListByUserID returns every non-deleted connection for a user.
func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID ident.ID) ([]cache.Connection, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id=$1 AND status <> 'deleted'`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections by user: %w", err)
	}
	defer rows.Close()

	var out []cache.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAll returns every connection, used to rebuild the full cache on startup.
func (r *ConnectionRepository) ListAll(ctx context.Context) ([]cache.Connection, error) {
	rows, err := r.db.Query(ctx, `SELECT `+connectionColumns+` FROM connections`)
	if err != nil {
		return nil, fmt.Errorf("list all connections: %w", err)
	}
	defer rows.Close()

	var out []cache.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
