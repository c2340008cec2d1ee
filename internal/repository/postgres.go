package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/jaam8/live_polls/internal/models"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"strings"
	"time"
)

// PostgresRepository stores polls in a relational database. The queries stay
// within the subset shared by PostgreSQL and SQLite.
type PostgresRepository struct {
	db  *sql.DB
	l   *zap.Logger
	now func() time.Time
}

func NewPostgres(db *sql.DB, l *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:  db,
		l:   l,
		now: time.Now,
	}
}

func (r *PostgresRepository) CreatePoll(ctx context.Context, poll *models.Poll) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin create poll", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO polls (id, question, description, total_votes, is_active, is_public,
		                   allow_multiple_votes, require_voter_id, show_results, end_date,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, poll.ID, poll.Question, poll.Description, poll.TotalVotes, poll.IsActive, poll.Settings.IsPublic,
		poll.Settings.AllowMultipleVotes, poll.Settings.RequireVoterID, poll.Settings.ShowResults,
		nullMillis(poll.Settings.EndDate), poll.CreatedAt.UnixMilli(), poll.UpdatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repository: poll %s already exists: %w", poll.ID, models.ErrValidation)
		}
		return storageErr("insert poll", err)
	}

	for _, o := range poll.Options {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO options (id, poll_id, text, votes, position)
			VALUES ($1, $2, $3, $4, $5)
		`, o.ID, poll.ID, o.Text, o.Votes, o.Position)
		if err != nil {
			return storageErr("insert option", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return storageErr("commit create poll", err)
	}
	r.l.Debug("poll stored", zap.String("poll_id", poll.ID), zap.Int("options", len(poll.Options)))
	return nil
}

const pollColumns = `p.id, p.question, p.description, p.total_votes, p.is_active, p.is_public,
	p.allow_multiple_votes, p.require_voter_id, p.show_results, p.end_date, p.created_at, p.updated_at`

// FindPollWithOptions reads the poll and its options with a single statement so
// the totals and the option counters come from the same snapshot.
func (r *PostgresRepository) FindPollWithOptions(ctx context.Context, pollID string) (*models.Poll, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pollColumns+`, o.id, o.text, o.votes, o.position
		FROM polls p
		LEFT JOIN options o ON o.poll_id = p.id
		WHERE p.id = $1
		ORDER BY o.position
	`, pollID)
	if err != nil {
		return nil, storageErr("select poll", err)
	}
	defer rows.Close()

	polls, err := r.scanPolls(rows)
	if err != nil {
		return nil, err
	}
	if len(polls) == 0 {
		r.l.Debug("poll not found", zap.String("poll_id", pollID))
		return nil, models.ErrPollNotFound
	}
	return &polls[0], nil
}

func (r *PostgresRepository) ListPolls(ctx context.Context) ([]models.Poll, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pollColumns+`, o.id, o.text, o.votes, o.position
		FROM polls p
		LEFT JOIN options o ON o.poll_id = p.id
		ORDER BY p.created_at DESC, p.id, o.position
	`)
	if err != nil {
		return nil, storageErr("select polls", err)
	}
	defer rows.Close()
	return r.scanPolls(rows)
}

func (r *PostgresRepository) scanPolls(rows *sql.Rows) ([]models.Poll, error) {
	var polls []models.Poll
	for rows.Next() {
		var (
			p                           models.Poll
			endDate                     sql.NullInt64
			createdAt, updatedAt        int64
			optionID, optionText        sql.NullString
			optionVotes, optionPosition sql.NullInt64
		)
		err := rows.Scan(&p.ID, &p.Question, &p.Description, &p.TotalVotes, &p.IsActive, &p.Settings.IsPublic,
			&p.Settings.AllowMultipleVotes, &p.Settings.RequireVoterID, &p.Settings.ShowResults, &endDate,
			&createdAt, &updatedAt, &optionID, &optionText, &optionVotes, &optionPosition)
		if err != nil {
			return nil, storageErr("scan poll", err)
		}
		if len(polls) == 0 || polls[len(polls)-1].ID != p.ID {
			p.CreatedAt = time.UnixMilli(createdAt).UTC()
			p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
			if endDate.Valid {
				end := time.UnixMilli(endDate.Int64).UTC()
				p.Settings.EndDate = &end
			}
			p.Options = []models.Option{}
			polls = append(polls, p)
		}
		if optionID.Valid {
			last := &polls[len(polls)-1]
			last.Options = append(last.Options, models.Option{
				ID:       optionID.String,
				PollID:   p.ID,
				Text:     optionText.String,
				Votes:    optionVotes.Int64,
				Position: int(optionPosition.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("rows", err)
	}
	return polls, nil
}

func (r *PostgresRepository) FindOption(ctx context.Context, pollID, optionID string) (*models.Option, error) {
	var o models.Option
	err := r.db.QueryRowContext(ctx, `
		SELECT id, poll_id, text, votes, position FROM options WHERE id = $1 AND poll_id = $2
	`, optionID, pollID).Scan(&o.ID, &o.PollID, &o.Text, &o.Votes, &o.Position)
	if errors.Is(err, sql.ErrNoRows) {
		r.l.Debug("option not found", zap.String("poll_id", pollID), zap.String("option_id", optionID))
		return nil, models.ErrInvalidOption
	}
	if err != nil {
		return nil, storageErr("select option", err)
	}
	return &o, nil
}

// IncrementOptionAndTotal bumps both counters inside one transaction. The
// increments are evaluated by the database, so concurrent votes never lose
// updates. The poll row is locked before the option row, the same order
// UpdatePoll takes.
func (r *PostgresRepository) IncrementOptionAndTotal(ctx context.Context, pollID, optionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin increment", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE polls SET total_votes = total_votes + 1, updated_at = $2 WHERE id = $1
	`, pollID, r.now().UnixMilli())
	if err != nil {
		return storageErr("increment total", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrPollNotFound
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE options SET votes = votes + 1 WHERE id = $1 AND poll_id = $2
	`, optionID, pollID)
	if err != nil {
		return storageErr("increment option", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrInvalidOption
	}

	if err = tx.Commit(); err != nil {
		return storageErr("commit increment", err)
	}
	return nil
}

func (r *PostgresRepository) FindVoteByVoterAndPoll(ctx context.Context, pollID, voterID string) (*models.Vote, error) {
	var (
		v         models.Vote
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, poll_id, option_id, voter_id, created_at FROM votes WHERE poll_id = $1 AND voter_id = $2
	`, pollID, voterID).Scan(&v.ID, &v.PollID, &v.OptionID, &v.VoterID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("select vote", err)
	}
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &v, nil
}

func (r *PostgresRepository) CreateVote(ctx context.Context, vote *models.Vote) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO votes (id, poll_id, option_id, voter_id, created_at) VALUES ($1, $2, $3, $4, $5)
	`, vote.ID, vote.PollID, vote.OptionID, nullString(vote.VoterID), vote.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrVoteAlreadyExists
		}
		return storageErr("insert vote", err)
	}
	return nil
}

// ClosePoll flips is_active off. Closing twice reports ErrPollIsClosed.
func (r *PostgresRepository) ClosePoll(ctx context.Context, pollID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE polls SET is_active = FALSE, updated_at = $2 WHERE id = $1 AND is_active
	`, pollID, r.now().UnixMilli())
	if err != nil {
		return storageErr("close poll", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var active bool
	err = r.db.QueryRowContext(ctx, `SELECT is_active FROM polls WHERE id = $1`, pollID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrPollNotFound
	}
	if err != nil {
		return storageErr("select poll state", err)
	}
	return models.ErrPollIsClosed
}

// DeletePoll removes the poll with its options and votes. Children are deleted
// explicitly because SQLite does not enforce the cascades by default.
func (r *PostgresRepository) DeletePoll(ctx context.Context, pollID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin delete poll", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM votes WHERE poll_id = $1`, pollID); err != nil {
		return storageErr("delete votes", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM options WHERE poll_id = $1`, pollID); err != nil {
		return storageErr("delete options", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM polls WHERE id = $1`, pollID)
	if err != nil {
		return storageErr("delete poll", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrPollNotFound
	}

	if err = tx.Commit(); err != nil {
		return storageErr("commit delete poll", err)
	}
	r.l.Debug("poll deleted", zap.String("poll_id", pollID))
	return nil
}

// UpdatePoll replaces the poll's text, settings and option set in one
// transaction. Existing options keep their counters, unknown IDs are inserted
// at zero, and options that are no longer listed go away with their votes.
// The total is recomputed from the remaining counters.
func (r *PostgresRepository) UpdatePoll(ctx context.Context, poll *models.Poll) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin update poll", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE polls SET question = $2, description = $3, is_public = $4, allow_multiple_votes = $5,
		                 require_voter_id = $6, show_results = $7, end_date = $8, updated_at = $9
		WHERE id = $1
	`, poll.ID, poll.Question, poll.Description, poll.Settings.IsPublic, poll.Settings.AllowMultipleVotes,
		poll.Settings.RequireVoterID, poll.Settings.ShowResults, nullMillis(poll.Settings.EndDate),
		r.now().UnixMilli())
	if err != nil {
		return storageErr("update poll", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrPollNotFound
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM options WHERE poll_id = $1`, poll.ID)
	if err != nil {
		return storageErr("select options", err)
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return storageErr("scan option", err)
		}
		existing[id] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return storageErr("rows", err)
	}
	rows.Close()

	for _, o := range poll.Options {
		delete(existing, o.ID)
	}
	for id := range existing {
		if _, err = tx.ExecContext(ctx, `DELETE FROM votes WHERE option_id = $1`, id); err != nil {
			return storageErr("delete option votes", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM options WHERE id = $1`, id); err != nil {
			return storageErr("delete option", err)
		}
	}

	for i, o := range poll.Options {
		res, err = tx.ExecContext(ctx, `
			UPDATE options SET text = $3, position = $4 WHERE id = $1 AND poll_id = $2
		`, o.ID, poll.ID, o.Text, i)
		if err != nil {
			return storageErr("update option", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO options (id, poll_id, text, votes, position) VALUES ($1, $2, $3, 0, $4)
		`, o.ID, poll.ID, o.Text, i)
		if err != nil {
			if isUniqueViolation(err) {
				return models.ErrInvalidOption
			}
			return storageErr("insert option", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE polls SET total_votes = (SELECT COALESCE(SUM(votes), 0) FROM options WHERE poll_id = $1)
		WHERE id = $1
	`, poll.ID)
	if err != nil {
		return storageErr("recompute total", err)
	}

	if err = tx.Commit(); err != nil {
		return storageErr("commit update poll", err)
	}
	r.l.Debug("poll updated", zap.String("poll_id", poll.ID), zap.Int("options", len(poll.Options)))
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("repository: %s: %w: %w", op, models.ErrStorageUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
