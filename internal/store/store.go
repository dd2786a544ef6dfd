// Package store is the relational persistence layer: the write-through target of the API sync pipeline (§4.6) and
// the source of truth the cache is rebuilt from on restart (§3 Ownership). It is built on
// github.com/jackc/pgx/v5, adapted from the teacher's per-entity PGRepository pattern (selectColumns constant,
// scanX(row pgx.Row) helper, postgres.WithTx for multi-statement writes).
package store

import (
	"errors"
)

// Sentinel errors surfaced to callers; ponyerr.Wrap attributes a Kind on top of these where the caller needs to
// classify for retry/boundary-mapping purposes.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)
