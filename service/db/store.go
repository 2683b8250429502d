package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/walletgraph/service/accountinfo"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DefaultAccountInfoTTL is how long a resolved account type is trusted.
const DefaultAccountInfoTTL = 24 * time.Hour

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service: the persistent account
// info cache and the graph query log.
type Store struct {
	pool    *pgxpool.Pool
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

var (
	_ accountinfo.Store      = (*Store)(nil)
	_ pipeline.QueryRecorder = (*Store)(nil)
)

// NewStore creates a new Store with the given database connection pool. A
// non-positive ttl uses DefaultAccountInfoTTL. m may be nil.
func NewStore(pool *pgxpool.Pool, ttl time.Duration, m *metrics.Metrics) *Store {
	if ttl <= 0 {
		ttl = DefaultAccountInfoTTL
	}
	return &Store{
		pool:    pool,
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
	}
}

// Connect opens a pool, verifies it and applies migrations.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// GetAccountInfos returns the unexpired entries for addrs. Addresses without
// a fresh row are absent from the result.
func (s *Store) GetAccountInfos(ctx context.Context, addrs []string) (map[string]accountinfo.AccountInfo, error) {
	out := make(map[string]accountinfo.AccountInfo, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT address, account_type, is_valid
		FROM account_info
		WHERE address = ANY($1) AND checked_at > $2
	`, addrs, s.now().Add(-s.ttl))
	if err != nil {
		s.record("select", "account_info", start, err)
		return nil, fmt.Errorf("query account info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address string
		var info accountinfo.AccountInfo
		if err := rows.Scan(&address, &info.AccountType, &info.IsValid); err != nil {
			s.record("select", "account_info", start, err)
			return nil, fmt.Errorf("scan account info: %w", err)
		}
		out[address] = info
	}
	err = rows.Err()
	s.record("select", "account_info", start, err)
	if err != nil {
		return nil, fmt.Errorf("iterate account info: %w", err)
	}
	return out, nil
}

// PutAccountInfos upserts entries, refreshing their check time.
func (s *Store) PutAccountInfos(ctx context.Context, entries map[string]accountinfo.AccountInfo) error {
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	checkedAt := s.now()
	batch := &pgx.Batch{}
	for address, info := range entries {
		batch.Queue(`
			INSERT INTO account_info (address, account_type, is_valid, checked_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (address) DO UPDATE
			SET account_type = EXCLUDED.account_type,
			    is_valid = EXCLUDED.is_valid,
			    checked_at = EXCLUDED.checked_at
		`, address, info.AccountType, info.IsValid, checkedAt)
	}

	err := s.pool.SendBatch(ctx, batch).Close()
	s.record("upsert", "account_info", start, err)
	if err != nil {
		return fmt.Errorf("upsert account info: %w", err)
	}
	return nil
}

// DeleteExpiredAccountInfos removes rows older than the TTL and returns how
// many were deleted.
func (s *Store) DeleteExpiredAccountInfos(ctx context.Context) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM account_info WHERE checked_at <= $1`, s.now().Add(-s.ttl))
	s.record("delete", "account_info", start, err)
	if err != nil {
		return 0, fmt.Errorf("delete expired account info: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GraphQuery is one row of the query log.
type GraphQuery struct {
	ID                  string          `json:"id"`
	Address             string          `json:"address"`
	WindowDays          int             `json:"window_days"`
	Status              string          `json:"status"`
	Message             string          `json:"message,omitempty"`
	RawTransactionCount int             `json:"raw_transaction_count"`
	TransactionCount    int             `json:"transaction_count"`
	CounterpartyCount   int             `json:"counterparty_count"`
	TotalSent           decimal.Decimal `json:"total_sent"`
	TotalReceived       decimal.Decimal `json:"total_received"`
	NetFlow             decimal.Decimal `json:"net_flow"`
	Truncated           bool            `json:"truncated"`
	Stats               graph.Stats     `json:"stats"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         time.Time       `json:"completed_at"`
	CreatedAt           time.Time       `json:"created_at"`
}

// GraphQueryFromResult builds a log row from a pipeline result.
func GraphQueryFromResult(res *pipeline.Result) GraphQuery {
	q := GraphQuery{
		ID:                  res.QueryID,
		Address:             res.Address,
		WindowDays:          res.WindowDays,
		Status:              string(res.Status),
		Message:             res.Message,
		RawTransactionCount: res.RawTransactionCount,
		TransactionCount:    res.TransactionCount,
		Truncated:           res.Truncated,
		StartedAt:           res.StartedAt,
		CompletedAt:         res.CompletedAt,
	}
	if res.Graph != nil {
		st := res.Graph.Stats
		q.Stats = st
		q.CounterpartyCount = st.TotalCounterparties
		q.TotalSent = st.TotalSent
		q.TotalReceived = st.TotalReceived
		q.NetFlow = st.NetFlow
	}
	return q
}

// RecordQuery logs a finished pipeline run.
func (s *Store) RecordQuery(ctx context.Context, res *pipeline.Result) error {
	return s.InsertGraphQuery(ctx, GraphQueryFromResult(res))
}

// InsertGraphQuery inserts one query log row.
func (s *Store) InsertGraphQuery(ctx context.Context, q GraphQuery) error {
	stats, err := json.Marshal(q.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	start := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO graph_queries (
			id, address, window_days, status, message,
			raw_transaction_count, transaction_count, counterparty_count,
			total_sent, total_received, net_flow, truncated, stats,
			started_at, completed_at
		) VALUES (
			$1::text::uuid, $2, $3, $4, $5,
			$6, $7, $8,
			$9::text::numeric, $10::text::numeric, $11::text::numeric, $12, $13,
			$14, $15
		)
	`,
		q.ID, q.Address, q.WindowDays, q.Status, q.Message,
		q.RawTransactionCount, q.TransactionCount, q.CounterpartyCount,
		q.TotalSent.String(), q.TotalReceived.String(), q.NetFlow.String(), q.Truncated, stats,
		q.StartedAt, q.CompletedAt,
	)
	s.record("insert", "graph_queries", start, err)
	if err != nil {
		return fmt.Errorf("insert graph query: %w", err)
	}
	return nil
}

const graphQueryColumns = `
	id::text, address, window_days, status, message,
	raw_transaction_count, transaction_count, counterparty_count,
	total_sent::text, total_received::text, net_flow::text, truncated, stats,
	started_at, completed_at, created_at
`

// GetGraphQuery returns one query log row by ID.
func (s *Store) GetGraphQuery(ctx context.Context, id string) (*GraphQuery, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+graphQueryColumns+` FROM graph_queries WHERE id = $1::text::uuid`, id)
	q, err := scanGraphQuery(row)
	s.record("select", "graph_queries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph query: %w", err)
	}
	return q, nil
}

// ListGraphQueries returns the most recent queries, newest first. An empty
// address lists queries for every address.
func (s *Store) ListGraphQueries(ctx context.Context, address string, limit int32) ([]*GraphQuery, error) {
	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+graphQueryColumns+`
		FROM graph_queries
		WHERE $1::text = '' OR address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		s.record("select", "graph_queries", start, err)
		return nil, fmt.Errorf("list graph queries: %w", err)
	}
	defer rows.Close()

	var out []*GraphQuery
	for rows.Next() {
		q, err := scanGraphQuery(rows)
		if err != nil {
			s.record("select", "graph_queries", start, err)
			return nil, fmt.Errorf("scan graph query: %w", err)
		}
		out = append(out, q)
	}
	err = rows.Err()
	s.record("select", "graph_queries", start, err)
	if err != nil {
		return nil, fmt.Errorf("iterate graph queries: %w", err)
	}
	return out, nil
}

func scanGraphQuery(row pgx.Row) (*GraphQuery, error) {
	var (
		q                    GraphQuery
		sent, received, flow string
		stats                []byte
	)
	err := row.Scan(
		&q.ID, &q.Address, &q.WindowDays, &q.Status, &q.Message,
		&q.RawTransactionCount, &q.TransactionCount, &q.CounterpartyCount,
		&sent, &received, &flow, &q.Truncated, &stats,
		&q.StartedAt, &q.CompletedAt, &q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if q.TotalSent, err = decimal.NewFromString(sent); err != nil {
		return nil, fmt.Errorf("parse total_sent: %w", err)
	}
	if q.TotalReceived, err = decimal.NewFromString(received); err != nil {
		return nil, fmt.Errorf("parse total_received: %w", err)
	}
	if q.NetFlow, err = decimal.NewFromString(flow); err != nil {
		return nil, fmt.Errorf("parse net_flow: %w", err)
	}
	if err := json.Unmarshal(stats, &q.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &q, nil
}

func (s *Store) record(op, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), err)
	}
}
