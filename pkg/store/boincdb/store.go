package boincdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/batchlens/pkg/aggregate"
	"github.com/3leaps/batchlens/pkg/record"
	"github.com/3leaps/batchlens/pkg/store"
)

// inBatch bounds the number of placeholders in one IN (...) list.
const inBatch = 500

// Store is a read-only store.Reader over a BOINC database.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

var (
	_ store.Reader = (*Store)(nil)
	_ store.Pinger = (*Store)(nil)
)

// New wraps an open database handle. A non-positive timeout selects
// DefaultQueryTimeout.
func New(db *sql.DB, queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Store{db: db, timeout: queryTimeout}
}

const workunitColumns = `id, name, create_time, batch, need_validate, xml_doc`

func (s *Store) ListChunks(ctx context.Context, limit int) ([]record.Chunk, error) {
	limit = store.ClampLimit(limit, MaxListChunks)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	chunks, err := s.queryWorkunits(ctx,
		`SELECT `+workunitColumns+` FROM workunit ORDER BY create_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, store.Unavailable("list workunits", err)
	}
	if err := s.attachAttempts(ctx, chunks); err != nil {
		return nil, store.Unavailable("list results", err)
	}
	return chunks, nil
}

// JobChunks selects by batch for "batch:<n>" ids. Any other id matches
// workunits whose metadata carries that job id or whose name equals it.
func (s *Store) JobChunks(ctx context.Context, jobID string, limit int) ([]record.Chunk, error) {
	limit = store.ClampLimit(limit, MaxJobChunks)
	jobID = strings.TrimSpace(jobID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		chunks []record.Chunk
		err    error
	)
	if batch, ok := parseBatchKey(jobID); ok {
		chunks, err = s.queryWorkunits(ctx,
			`SELECT `+workunitColumns+` FROM workunit WHERE batch = ? ORDER BY id ASC LIMIT ?`, batch, limit)
	} else {
		chunks, err = s.queryWorkunits(ctx,
			`SELECT `+workunitColumns+` FROM workunit
			 WHERE xml_doc LIKE ? ESCAPE '!' OR name = ?
			 ORDER BY id ASC LIMIT ?`, jobIDPattern(jobID), jobID, limit)
	}
	if err != nil {
		return nil, store.Unavailable("query job workunits", err)
	}
	if err := s.attachAttempts(ctx, chunks); err != nil {
		return nil, store.Unavailable("query job results", err)
	}
	return chunks, nil
}

func (s *Store) ListHosts(ctx context.Context, limit int) ([]record.Host, error) {
	limit = store.ClampLimit(limit, MaxHosts)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, venue, rpc_time, misc FROM host ORDER BY rpc_time DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, store.Unavailable("list hosts", err)
	}
	defer func() { _ = rows.Close() }()

	var hosts []record.Host
	index := make(map[int64]int)
	for rows.Next() {
		var (
			h     record.Host
			venue sql.NullString
			seen  sql.NullInt64
			misc  sql.NullString
		)
		if err := rows.Scan(&h.ID, &venue, &seen, &misc); err != nil {
			return nil, store.Unavailable("scan host", err)
		}
		h.Venue = venue.String
		h.LastSeen = seen.Int64
		h.Misc = misc.String
		index[h.ID] = len(hosts)
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list hosts", err)
	}
	_ = rows.Close()

	ids := make([]int64, 0, len(hosts))
	for _, h := range hosts {
		ids = append(ids, h.ID)
	}
	err = forEachBatch(ids, func(batch []int64) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, workunitid, hostid, server_state, outcome FROM result WHERE hostid IN (`+placeholders(len(batch))+`)`,
			int64Args(batch)...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var a record.Attempt
			if err := rows.Scan(&a.ID, &a.ChunkID, &a.HostID, &a.ServerState, &a.Outcome); err != nil {
				return err
			}
			i := index[a.HostID]
			hosts[i].Attempts = append(hosts[i].Attempts, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, store.Unavailable("list host results", err)
	}
	return hosts, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return store.Unavailable("ping boinc database", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryWorkunits(ctx context.Context, query string, args ...any) ([]record.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chunks []record.Chunk
	for rows.Next() {
		var (
			c            record.Chunk
			name         sql.NullString
			created      sql.NullInt64
			batch        sql.NullInt64
			needValidate sql.NullInt64
			doc          sql.NullString
		)
		if err := rows.Scan(&c.ID, &name, &created, &batch, &needValidate, &doc); err != nil {
			return nil, err
		}
		c.Name = name.String
		c.CreatedAt = created.Int64
		c.Batch = batch.Int64
		c.NeedValidate = needValidate.Int64 != 0
		c.Metadata = doc.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) attachAttempts(ctx context.Context, chunks []record.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	index := make(map[int64]int, len(chunks))
	ids := make([]int64, 0, len(chunks))
	for i, c := range chunks {
		index[c.ID] = i
		ids = append(ids, c.ID)
	}

	return forEachBatch(ids, func(batch []int64) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, workunitid, server_state, outcome, validate_state, hostid,
			        sent_time, received_time, exit_status, stderr_out
			 FROM result WHERE workunitid IN (`+placeholders(len(batch))+`) ORDER BY id ASC`,
			int64Args(batch)...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				a        record.Attempt
				hostID   sql.NullInt64
				sent     sql.NullInt64
				received sql.NullInt64
				exit     sql.NullInt64
				stderr   sql.NullString
			)
			if err := rows.Scan(&a.ID, &a.ChunkID, &a.ServerState, &a.Outcome, &a.ValidateState,
				&hostID, &sent, &received, &exit, &stderr); err != nil {
				return err
			}
			a.HostID = hostID.Int64
			a.SentAt = sent.Int64
			a.ReceivedAt = received.Int64
			a.ExitStatus = int(exit.Int64)
			a.Stderr = stderr.String

			i := index[a.ChunkID]
			chunks[i].Attempts = append(chunks[i].Attempts, a)
		}
		return rows.Err()
	})
}

func parseBatchKey(jobID string) (int64, bool) {
	rest, ok := strings.CutPrefix(jobID, aggregate.BatchKeyPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// jobIDPattern builds a LIKE pattern (escape char '!') matching the job id
// tag as it appears in rendered metadata.
func jobIDPattern(jobID string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(jobID))

	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(buf.String())
	return "%<job_id>" + escaped + "</job_id>%"
}

func forEachBatch(ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += inBatch {
		end := start + inBatch
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
