package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/geoffrothman/smores/internal/batch"
	"github.com/geoffrothman/smores/pkg/logx"
)

func newMockPostgres(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLStore(db, dialectPostgres, logx.Nop()), mock
}

func TestPostgresRebind(t *testing.T) {
	st, _ := newMockPostgres(t)
	assert.Equal(t, "a = $1 AND b IN ($2, $3)", st.q("a = ? AND b IN (?, ?)"))

	lite := newSQLStore(nil, dialectSQLite, logx.Nop())
	assert.Equal(t, "a = ?", lite.q("a = ?"))
}

func TestPostgresCreateBatch_Success(t *testing.T) {
	st, mock := newMockPostgres(t)
	created := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)
	b := batch.New("C1", "T1", [][]string{{"A", "B"}}, created)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO batches`).
		WithArgs(b.ID, "C1", "T1", "2026-10-13T09:00:00.000000Z", "GENERATED", "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO batch_pairs\(.+\) VALUES\(\$1,\$2,\$3,\$4,\$5,\$6\)`).
		WithArgs(b.ID, 0, `["A","B"]`, "GENERATED", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE channels SET last_sent_on = \$1 WHERE channel_id = \$2`).
		WithArgs("2026-10-13", "C1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.CreateBatch(context.Background(), b, created)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateBatch_UnknownChannelRollsBack(t *testing.T) {
	st, mock := newMockPostgres(t)
	b := batch.New("C404", "T1", [][]string{{"A", "B"}}, time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO batches`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO batch_pairs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE channels`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.CreateBatch(context.Background(), b, time.Now())
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEligibleChannels(t *testing.T) {
	st, mock := newMockPostgres(t)
	cutoff := time.Date(2026, 9, 29, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"channel_id", "team_id", "enterprise_id", "is_active", "last_sent_on", "members_circle", "created_at"}).
		AddRow("C1", "T1", nil, 1, nil, `["U1","U2"]`, "2026-01-01T00:00:00.000000Z").
		AddRow("C2", "T1", "E1", 1, "2026-09-15", nil, "2026-01-02T00:00:00.000000Z")
	mock.ExpectQuery(`FROM channels\s+WHERE is_active = 1 AND .+last_sent_on <= \$1\)\s+AND channel_id > \$2\s+ORDER BY channel_id LIMIT \$3`).
		WithArgs("2026-09-29", "C0", 10).
		WillReturnRows(rows)

	chs, err := st.EligibleChannels(context.Background(), cutoff, "C0", 10)
	assert.NoError(t, err)
	assert.Len(t, chs, 2)
	assert.Equal(t, []string{"U1", "U2"}, chs[0].Circle)
	assert.True(t, chs[0].LastSentOn.IsZero())
	assert.Equal(t, "E1", chs[1].EnterpriseID)
	assert.Equal(t, time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), chs[1].LastSentOn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateBatch_Fail(t *testing.T) {
	st, mock := newMockPostgres(t)
	b := batch.New("C1", "T1", [][]string{{"A", "B"}}, time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE batches SET status = \$1, midpoint_status = \$2, sent_on = \$3 WHERE id = \$4`).
		WithArgs("GENERATED", "", nil, b.ID).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := st.UpdateBatch(context.Background(), b)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}
