package agentsvc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/protocol"
	"github.com/ponyfleet/ponyd/internal/retry"
)

// Reconciler applies bus deltas to the local cache via the tunnel admin registry, the agent side of the
// reconciliation loop (§4.5).
type Reconciler struct {
	cache   *cache.Cache
	admins  Registry
	log     zerolog.Logger
	backoff retry.Policy
}

func NewReconciler(c *cache.Cache, admins Registry, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		cache:   c,
		admins:  admins,
		log:     logger.With().Str("component", "reconciler").Logger(),
		backoff: retry.Default,
	}
}

// Apply handles one delta message end to end. Transport/tunnel errors retry with the shared exponential backoff
// (50ms, ×2, capped 5s, max 5 attempts); on exhaustion the cache is left untouched and the failure is logged as
// degraded, per §4.5.
func (r *Reconciler) Apply(ctx context.Context, msg protocol.Message) {
	conn, known := r.cache.GetConnection(msg.ConnID)

	switch msg.Action {
	case ident.ActionCreate:
		r.applyCreate(ctx, msg, conn, known)
	case ident.ActionDelete:
		r.applyDelete(ctx, conn, known)
	case ident.ActionResetStat:
		r.applyResetStat(ctx, conn, known)
	default:
		r.log.Warn().Str("action", string(msg.Action)).Msg("reconciler: unknown action, dropping")
	}
}

func (r *Reconciler) applyCreate(ctx context.Context, msg protocol.Message, conn cache.Connection, known bool) {
	if !known {
		if msg.Connection == nil {
			r.log.Warn().Stringer("conn_id", msg.ConnID).Msg("reconciler: create for unknown connection with no payload, dropping")
			return
		}
		// Steady-state create for a connection this agent has never seen: the message carries the full record,
		// which is inserted into the cache only once provisioning succeeds (§4.5 step 2).
		conn = *msg.Connection
	}

	admin, err := r.admins.For(conn.Proto.Kind)
	if err != nil {
		r.log.Error().Err(err).Msg("reconciler: create failed")
		return
	}

	err = retry.Do(ctx, r.backoff, func(int) error {
		return admin.AddUser(ctx, conn)
	})
	if err != nil {
		r.log.Warn().Err(err).Stringer("conn_id", conn.ConnID).Msg("reconciler: create degraded after retries, cache untouched")
		return
	}

	conn.Status = ident.ConnActive
	conn.ModifiedAt = time.Now()
	r.cache.AddConnection(conn, false)
}

func (r *Reconciler) applyDelete(ctx context.Context, conn cache.Connection, known bool) {
	if !known {
		return
	}

	admin, err := r.admins.For(conn.Proto.Kind)
	if err != nil {
		r.log.Error().Err(err).Msg("reconciler: delete failed")
		return
	}

	err = retry.Do(ctx, r.backoff, func(int) error {
		return admin.RemoveUser(ctx, conn)
	})
	if err != nil {
		r.log.Warn().Err(err).Stringer("conn_id", conn.ConnID).Msg("reconciler: delete degraded after retries, cache untouched")
		return
	}

	r.cache.DeleteConnection(conn.ConnID)
}

func (r *Reconciler) applyResetStat(ctx context.Context, conn cache.Connection, known bool) {
	if !known {
		return
	}

	admin, err := r.admins.For(conn.Proto.Kind)
	if err != nil {
		r.log.Error().Err(err).Msg("reconciler: reset_stat failed")
		return
	}

	err = retry.Do(ctx, r.backoff, func(int) error {
		return admin.ResetStat(ctx, conn)
	})
	if err != nil {
		r.log.Warn().Err(err).Stringer("conn_id", conn.ConnID).Msg("reconciler: reset_stat degraded after retries, cache untouched")
		return
	}

	conn.Online, conn.Uplink, conn.Downlink = 0, 0, 0
	conn.ModifiedAt = time.Now()
	r.cache.AddConnection(conn, false)
}
