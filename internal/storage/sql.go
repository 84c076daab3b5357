package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/geoffrothman/smores/internal/batch"
	"github.com/geoffrothman/smores/internal/model"
	"github.com/geoffrothman/smores/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, dialect: d, log: log}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// q rewrites '?' placeholders to $n for postgres.
func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---- channels ----

const channelCols = `channel_id, team_id, enterprise_id, is_active, last_sent_on, members_circle, created_at`

func (s *sqlStore) SaveChannel(ctx context.Context, ch model.Channel) error {
	if strings.TrimSpace(ch.ID) == "" {
		return errors.New("channel id is required")
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	circle, err := encodeList(ch.Circle)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO channels(`+channelCols+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   team_id=excluded.team_id,
		   enterprise_id=excluded.enterprise_id,
		   is_active=excluded.is_active,
		   last_sent_on=excluded.last_sent_on,
		   members_circle=excluded.members_circle`),
		ch.ID, ch.TeamID, nullStr(ch.EnterpriseID), boolInt(ch.Active),
		nullStr(model.DayString(ch.LastSentOn)), circle, formatTS(ch.CreatedAt),
	)
	return err
}

func (s *sqlStore) GetChannel(ctx context.Context, id string) (model.Channel, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+channelCols+` FROM channels WHERE channel_id = ?`), id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return ch, err
}

func (s *sqlStore) EligibleChannels(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]model.Channel, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+channelCols+` FROM channels
		 WHERE is_active = 1 AND (last_sent_on IS NULL OR last_sent_on = '' OR last_sent_on <= ?)
		   AND channel_id > ?
		 ORDER BY channel_id LIMIT ?`),
		model.DayString(cutoff), afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectChannels(rows)
}

func (s *sqlStore) ListActiveChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelCols+` FROM channels WHERE is_active = 1 ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	return collectChannels(rows)
}

func (s *sqlStore) SetChannelActive(ctx context.Context, id string, active bool) error {
	return s.updateChannel(ctx, s.db, `UPDATE channels SET is_active = ? WHERE channel_id = ?`, id, boolInt(active), id)
}

func (s *sqlStore) MarkChannelPaired(ctx context.Context, id string, day time.Time) error {
	return s.updateChannel(ctx, s.db, `UPDATE channels SET last_sent_on = ? WHERE channel_id = ?`, id, model.DayString(day), id)
}

func (s *sqlStore) SaveCircle(ctx context.Context, id string, circle []string) error {
	enc, err := encodeList(circle)
	if err != nil {
		return err
	}
	return s.updateChannel(ctx, s.db, `UPDATE channels SET members_circle = ? WHERE channel_id = ?`, id, enc, id)
}

func (s *sqlStore) updateChannel(ctx context.Context, ex execer, query, id string, args ...any) error {
	res, err := ex.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(r rowScanner) (model.Channel, error) {
	var (
		ch                           model.Channel
		enterprise, lastSent, circle sql.NullString
		active                       int
		created                      string
	)
	if err := r.Scan(&ch.ID, &ch.TeamID, &enterprise, &active, &lastSent, &circle, &created); err != nil {
		return model.Channel{}, err
	}
	ch.EnterpriseID = enterprise.String
	ch.Active = active != 0
	day, err := model.ParseDay(lastSent.String)
	if err != nil {
		return model.Channel{}, fmt.Errorf("channel %s last_sent_on: %w", ch.ID, err)
	}
	ch.LastSentOn = day
	if ch.Circle, err = decodeList(circle.String); err != nil {
		return model.Channel{}, fmt.Errorf("channel %s circle: %w", ch.ID, err)
	}
	ch.CreatedAt = parseTS(created)
	return ch, nil
}

func collectChannels(rows *sql.Rows) ([]model.Channel, error) {
	defer rows.Close()
	var out []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ---- members ----

func (s *sqlStore) ListMemberIDs(ctx context.Context, channelID, teamID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT member_id FROM channel_members WHERE channel_id = ? AND team_id = ? ORDER BY member_id`),
		channelID, teamID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) AddMember(ctx context.Context, m model.Member) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO channel_members(channel_id, team_id, member_id, opted_in) VALUES(?,?,?,?)
		 ON CONFLICT(channel_id, team_id, member_id) DO NOTHING`),
		m.ChannelID, m.TeamID, m.ID, boolInt(m.OptedIn),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) RemoveMember(ctx context.Context, channelID, teamID, memberID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM channel_members WHERE channel_id = ? AND team_id = ? AND member_id = ?`),
		channelID, teamID, memberID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---- batches ----

const batchCols = `id, channel_id, team_id, created_at, status, midpoint_status, sent_on`

func (s *sqlStore) CreateBatch(ctx context.Context, b *batch.Batch, pairedOn time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO batches(`+batchCols+`) VALUES(?,?,?,?,?,?,?)`),
			b.ID, b.ChannelID, b.TeamID, formatTS(b.CreatedAt), string(b.Status),
			string(b.MidpointStatus), nullStr(model.DayString(b.SentOn)),
		); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		for _, p := range b.Pairs {
			if err := s.upsertPair(ctx, tx, b.ID, p); err != nil {
				return err
			}
		}
		return s.updateChannel(ctx, tx, `UPDATE channels SET last_sent_on = ? WHERE channel_id = ?`,
			b.ChannelID, model.DayString(pairedOn), b.ChannelID)
	})
}

func (s *sqlStore) GetBatch(ctx context.Context, id string) (*batch.Batch, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+batchCols+` FROM batches WHERE id = ?`), id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadPairs(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *sqlStore) UpdatePair(ctx context.Context, batchID string, p batch.PairRecord) error {
	return s.upsertPair(ctx, s.db, batchID, p)
}

func (s *sqlStore) UpdateBatch(ctx context.Context, b *batch.Batch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			`UPDATE batches SET status = ?, midpoint_status = ?, sent_on = ? WHERE id = ?`),
			string(b.Status), string(b.MidpointStatus), nullStr(model.DayString(b.SentOn)), b.ID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("batch %s: %w", b.ID, ErrNotFound)
		}
		for _, p := range b.Pairs {
			if err := s.upsertPair(ctx, tx, b.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) upsertPair(ctx context.Context, ex execer, batchID string, p batch.PairRecord) error {
	members, err := encodeList(p.Members)
	if err != nil {
		return err
	}
	var reminded any
	if !p.MidpointSentOn.IsZero() {
		reminded = formatTS(p.MidpointSentOn)
	}
	_, err = ex.ExecContext(ctx, s.q(
		`INSERT INTO batch_pairs(batch_id, idx, members, status, conversation_id, midpoint_sent_on) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(batch_id, idx) DO UPDATE SET
		   status=excluded.status,
		   conversation_id=excluded.conversation_id,
		   midpoint_sent_on=excluded.midpoint_sent_on`),
		batchID, p.Index, members, string(p.Status), nullStr(p.ConversationID), reminded,
	)
	if err != nil {
		return fmt.Errorf("upsert pair %s/%d: %w", batchID, p.Index, err)
	}
	return nil
}

func (s *sqlStore) PendingIntroBatches(ctx context.Context, staleBefore time.Time) ([]*batch.Batch, error) {
	query := `SELECT ` + batchCols + ` FROM batches
		 WHERE (status = ? AND (sent_on IS NULL OR sent_on = ''))`
	args := []any{string(batch.StatusPartiallySent)}
	if !staleBefore.IsZero() {
		query += ` OR (status = ? AND created_at <= ?)`
		args = append(args, string(batch.StatusGenerated), formatTS(staleBefore))
	}
	query += ` ORDER BY created_at, id`
	return s.queryBatches(ctx, query, args...)
}

func (s *sqlStore) MidpointDueBatches(ctx context.Context, cutoff time.Time) ([]*batch.Batch, error) {
	return s.queryBatches(ctx, `SELECT `+batchCols+` FROM batches
		 WHERE status = ? AND sent_on IS NOT NULL AND sent_on <> '' AND sent_on <= ? AND midpoint_status <> ?
		 ORDER BY sent_on, id`,
		string(batch.StatusIntroSent), model.DayString(cutoff), string(batch.MidpointSent),
	)
}

// queryBatches reads batch rows fully before loading pairs; sqlite runs with a
// single connection.
func (s *sqlStore) queryBatches(ctx context.Context, query string, args ...any) ([]*batch.Batch, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	var out []*batch.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, b := range out {
		if err := s.loadPairs(ctx, b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqlStore) loadPairs(ctx context.Context, b *batch.Batch) error {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT idx, members, status, conversation_id, midpoint_sent_on FROM batch_pairs WHERE batch_id = ? ORDER BY idx`),
		b.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	b.Pairs = b.Pairs[:0]
	for rows.Next() {
		var (
			p              batch.PairRecord
			members        string
			status         string
			conv, reminded sql.NullString
		)
		if err := rows.Scan(&p.Index, &members, &status, &conv, &reminded); err != nil {
			return err
		}
		if p.Members, err = decodeList(members); err != nil {
			return fmt.Errorf("batch %s pair %d members: %w", b.ID, p.Index, err)
		}
		p.Status = batch.Status(status)
		p.ConversationID = conv.String
		p.MidpointSentOn = parseTS(reminded.String)
		b.Pairs = append(b.Pairs, p)
	}
	return rows.Err()
}

func scanBatch(r rowScanner) (*batch.Batch, error) {
	var (
		b                    batch.Batch
		created, status, mid string
		sentOn               sql.NullString
	)
	if err := r.Scan(&b.ID, &b.ChannelID, &b.TeamID, &created, &status, &mid, &sentOn); err != nil {
		return nil, err
	}
	b.CreatedAt = parseTS(created)
	b.Status = batch.Status(status)
	b.MidpointStatus = batch.MidpointStatus(mid)
	day, err := model.ParseDay(sentOn.String)
	if err != nil {
		return nil, fmt.Errorf("batch %s sent_on: %w", b.ID, err)
	}
	b.SentOn = day
	return &b, nil
}

// ---- helpers ----

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
