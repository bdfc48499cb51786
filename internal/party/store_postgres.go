package party

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists parties in postgres. The party row is the locking
// unit: every mutation runs in a transaction that takes FOR UPDATE on it, so
// check-then-act sequences (dup check, already-voted check, reordering) are
// serialized per party while different parties proceed in parallel.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func AutoMigrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS parties(
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			join_code TEXT NOT NULL,
			catalog_token TEXT NOT NULL DEFAULT '',
			closed BOOLEAN NOT NULL DEFAULT false,
			version BIGINT NOT NULL DEFAULT 0,
			current_track JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_parties_join_code
			ON parties(join_code) WHERE NOT closed`,
		`CREATE TABLE IF NOT EXISTS attendees(
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			party_id uuid NOT NULL REFERENCES parties(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT false,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS queue_tracks(
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			party_id uuid NOT NULL REFERENCES parties(id) ON DELETE CASCADE,
			catalog_id TEXT NOT NULL,
			title TEXT NOT NULL,
			artist_names TEXT[] NOT NULL DEFAULT '{}',
			album_art_url TEXT NOT NULL DEFAULT '',
			submitter_id uuid NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(party_id, catalog_id)
		)`,
		`CREATE TABLE IF NOT EXISTS track_votes(
			track_id uuid NOT NULL REFERENCES queue_tracks(id) ON DELETE CASCADE,
			attendee_id uuid NOT NULL,
			direction TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY(track_id, attendee_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate party-service: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateParty(ctx context.Context, name, hostName, catalogToken string) (*Party, *Attendee, error) {
	name, err := validatePartyName(name)
	if err != nil {
		return nil, nil, err
	}
	hostName, err = validateAttendeeName(hostName)
	if err != nil {
		return nil, nil, err
	}

	// Retry on join-code collision against another open party; the partial
	// unique index is the arbiter.
	for attempt := 0; attempt < 5; attempt++ {
		code := newJoinCode()

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return nil, nil, err
		}

		var p Party
		p.JoinCode = code
		p.CatalogToken = catalogToken
		err = tx.QueryRow(ctx, `
			INSERT INTO parties(name, join_code, catalog_token)
			VALUES($1, $2, $3)
			RETURNING id, name, created_at
		`, name, code, catalogToken).Scan(&p.ID, &p.Name, &p.CreatedAt)
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			continue
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, nil, err
		}

		var host Attendee
		host.Admin = true
		err = tx.QueryRow(ctx, `
			INSERT INTO attendees(party_id, name, is_admin)
			VALUES($1, $2, true)
			RETURNING id, name, joined_at
		`, p.ID, hostName).Scan(&host.ID, &host.Name, &host.JoinedAt)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, nil, err
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, nil, err
		}
		return &p, &host, nil
	}
	return nil, nil, errors.New("could not allocate a unique join code")
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, partyID string) (*Snapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := s.loadParty(ctx, tx, partyID, false)
	if err != nil {
		return nil, err
	}
	attendees, err := s.loadAttendees(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	queue, err := s.loadQueue(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Snapshot{Party: *p, Attendees: attendees, Queue: queue}, nil
}

func (s *PostgresStore) JoinParty(ctx context.Context, code, name string) (*Party, *MemberResult, error) {
	name, err := validateAttendeeName(name)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var p Party
	var rawCurrent []byte
	err = tx.QueryRow(ctx, `
		SELECT id, name, join_code, catalog_token, closed, version, current_track, created_at
		FROM parties
		WHERE join_code = $1 AND NOT closed
		FOR UPDATE
	`, normalizeJoinCode(code)).Scan(
		&p.ID, &p.Name, &p.JoinCode, &p.CatalogToken, &p.Closed, &p.Version, &rawCurrent, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, errNotFound("party not found")
	}
	if err != nil {
		return nil, nil, err
	}
	if err := unmarshalCurrent(rawCurrent, &p); err != nil {
		return nil, nil, err
	}

	var att Attendee
	err = tx.QueryRow(ctx, `
		INSERT INTO attendees(party_id, name)
		VALUES($1, $2)
		RETURNING id, name, is_admin, joined_at
	`, p.ID, name).Scan(&att.ID, &att.Name, &att.Admin, &att.JoinedAt)
	if err != nil {
		return nil, nil, err
	}

	version, err := s.bumpVersion(ctx, tx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	p.Version = version

	attendees, err := s.loadAttendees(ctx, tx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return &p, &MemberResult{Changed: &att, Attendees: attendees, Version: version}, nil
}

func (s *PostgresStore) CloseParty(ctx context.Context, partyID, requesterID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockParty(ctx, tx, partyID); err != nil {
		return 0, err
	}
	if err := s.requireAdmin(ctx, tx, partyID, requesterID, "only the admin can close the party"); err != nil {
		return 0, err
	}

	var version int64
	err = tx.QueryRow(ctx, `
		UPDATE parties SET closed = true, version = version + 1
		WHERE id = $1
		RETURNING version
	`, partyID).Scan(&version)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *PostgresStore) ListAttendees(ctx context.Context, partyID string) ([]Attendee, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.loadParty(ctx, tx, partyID, false); err != nil {
		return nil, err
	}
	attendees, err := s.loadAttendees(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return attendees, nil
}

func (s *PostgresStore) RemoveAttendee(ctx context.Context, partyID, attendeeID, requesterID string) (*MemberResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockParty(ctx, tx, partyID); err != nil {
		return nil, err
	}

	target, err := s.loadAttendee(ctx, tx, partyID, attendeeID)
	if err != nil {
		return nil, err
	}

	if attendeeID == requesterID {
		if target.Admin {
			var others int
			if err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM attendees WHERE party_id = $1 AND id <> $2
			`, partyID, attendeeID).Scan(&others); err != nil {
				return nil, err
			}
			if others > 0 {
				return nil, errPermissionDenied("admin cannot leave while attendees remain; close the party instead")
			}
		}
	} else {
		if err := s.requireAdmin(ctx, tx, partyID, requesterID, "only the admin can remove other attendees"); err != nil {
			return nil, err
		}
		if target.Admin {
			return nil, errPermissionDenied("the admin cannot be removed")
		}
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM attendees WHERE id = $1 AND party_id = $2
	`, attendeeID, partyID); err != nil {
		return nil, err
	}

	version, err := s.bumpVersion(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	attendees, err := s.loadAttendees(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &MemberResult{Changed: target, Attendees: attendees, Version: version}, nil
}

func (s *PostgresStore) RenameAttendee(ctx context.Context, partyID, attendeeID, requesterID, name string) (*MemberResult, error) {
	name, err := validateAttendeeName(name)
	if err != nil {
		return nil, err
	}
	if attendeeID != requesterID {
		return nil, errPermissionDenied("attendees can only rename themselves")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockParty(ctx, tx, partyID); err != nil {
		return nil, err
	}

	var att Attendee
	err = tx.QueryRow(ctx, `
		UPDATE attendees SET name = $3
		WHERE id = $1 AND party_id = $2
		RETURNING id, name, is_admin, joined_at
	`, attendeeID, partyID, name).Scan(&att.ID, &att.Name, &att.Admin, &att.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound("attendee not found")
	}
	if err != nil {
		return nil, err
	}

	version, err := s.bumpVersion(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	attendees, err := s.loadAttendees(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &MemberResult{Changed: &att, Attendees: attendees, Version: version}, nil
}

func (s *PostgresStore) AddTrack(ctx context.Context, partyID, submitterID string, tr Track) (*QueueResult, error) {
	if strings.TrimSpace(tr.CatalogID) == "" {
		return nil, errInvalid("catalogId must not be empty")
	}
	if strings.TrimSpace(tr.Title) == "" {
		return nil, errInvalid("title must not be empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockParty(ctx, tx, partyID); err != nil {
		return nil, err
	}
	if _, err := s.loadAttendee(ctx, tx, partyID, submitterID); err != nil {
		return nil, err
	}

	qt := QueueTrack{Track: tr, SubmitterID: submitterID}
	err = tx.QueryRow(ctx, `
		INSERT INTO queue_tracks(party_id, catalog_id, title, artist_names, album_art_url, submitter_id)
		VALUES($1, $2, $3, $4, $5, $6)
		RETURNING id, added_at
	`, partyID, tr.CatalogID, tr.Title, tr.ArtistNames, tr.AlbumArtURL, submitterID).Scan(&qt.ID, &qt.AddedAt)
	if isUniqueViolation(err) {
		return nil, errConflict("track is already in the queue")
	}
	if err != nil {
		return nil, err
	}

	version, err := s.bumpVersion(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	queue, err := s.loadQueue(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &QueueResult{Changed: &qt, Queue: queue, Version: version}, nil
}

func (s *PostgresStore) RemoveTrack(ctx context.Context, partyID, trackID string) (*QueueResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockParty(ctx, tx, partyID); err != nil {
		return nil, err
	}

	res, err := tx.Exec(ctx, `
		DELETE FROM queue_tracks WHERE id = $1 AND party_id = $2
	`, trackID, partyID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected() == 0 {
		// Already consumed or purged: idempotent no-op.
		return nil, nil
	}

	version, err := s.bumpVersion(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	queue, err := s.loadQueue(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &QueueResult{Queue: queue, Version: version}, nil
}

func (s *PostgresStore) CastVote(ctx context.Context, partyID, trackID, attendeeID, direction string) (*QueueResult, error) {
	if err := validateDirection(direction); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockParty(ctx, tx, partyID); err != nil {
		return nil, err
	}
	if _, err := s.loadAttendee(ctx, tx, partyID, attendeeID); err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM queue_tracks WHERE id = $1 AND party_id = $2)
	`, trackID, partyID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNotFound("track not found")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO track_votes(track_id, attendee_id, direction)
		VALUES($1, $2, $3)
	`, trackID, attendeeID, direction)
	if isUniqueViolation(err) {
		return nil, errConflict("attendee has already voted on this track")
	}
	if err != nil {
		return nil, err
	}

	version, err := s.bumpVersion(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	queue, err := s.loadQueue(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	var changed *QueueTrack
	for i := range queue {
		if queue[i].ID == trackID {
			changed = &queue[i]
			break
		}
	}
	return &QueueResult{Changed: changed, Queue: queue, Version: version}, nil
}

func (s *PostgresStore) NextTrack(ctx context.Context, partyID, requesterID string) (*PlayerResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockParty(ctx, tx, partyID); err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, tx, partyID, requesterID, "only the admin can control playback"); err != nil {
		return nil, err
	}

	queue, err := s.loadQueue(ctx, tx, partyID)
	if err != nil {
		return nil, err
	}

	var current *QueueTrack
	if len(queue) > 0 {
		head := queue[0]
		current = &head
		queue = queue[1:]
		if _, err := tx.Exec(ctx, `
			DELETE FROM queue_tracks WHERE id = $1 AND party_id = $2
		`, head.ID, partyID); err != nil {
			return nil, err
		}
	}

	rawCurrent, err := marshalCurrent(current)
	if err != nil {
		return nil, err
	}
	var version int64
	err = tx.QueryRow(ctx, `
		UPDATE parties SET current_track = $2, version = version + 1
		WHERE id = $1
		RETURNING version
	`, partyID, rawCurrent).Scan(&version)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &PlayerResult{Current: current, Queue: queue, Version: version}, nil
}

func (s *PostgresStore) CatalogToken(ctx context.Context, partyID string) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx, `
		SELECT catalog_token FROM parties WHERE id = $1 AND NOT closed
	`, partyID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errNotFound("party not found")
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// lockParty takes the per-party row lock and rejects closed parties.
func (s *PostgresStore) lockParty(ctx context.Context, tx pgx.Tx, partyID string) (*Party, error) {
	return s.loadParty(ctx, tx, partyID, true)
}

func (s *PostgresStore) loadParty(ctx context.Context, tx pgx.Tx, partyID string, forUpdate bool) (*Party, error) {
	q := `
		SELECT id, name, join_code, catalog_token, closed, version, current_track, created_at
		FROM parties
		WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var p Party
	var rawCurrent []byte
	err := tx.QueryRow(ctx, q, partyID).Scan(
		&p.ID, &p.Name, &p.JoinCode, &p.CatalogToken, &p.Closed, &p.Version, &rawCurrent, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound("party not found")
	}
	if err != nil {
		return nil, err
	}
	if p.Closed {
		return nil, errNotFound("party not found")
	}
	if err := unmarshalCurrent(rawCurrent, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) loadAttendee(ctx context.Context, tx pgx.Tx, partyID, attendeeID string) (*Attendee, error) {
	var att Attendee
	err := tx.QueryRow(ctx, `
		SELECT id, name, is_admin, joined_at
		FROM attendees
		WHERE id = $1 AND party_id = $2
	`, attendeeID, partyID).Scan(&att.ID, &att.Name, &att.Admin, &att.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound("attendee not found")
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}

func (s *PostgresStore) requireAdmin(ctx context.Context, tx pgx.Tx, partyID, attendeeID, denied string) error {
	att, err := s.loadAttendee(ctx, tx, partyID, attendeeID)
	if err != nil {
		return err
	}
	if !att.Admin {
		return errPermissionDenied(denied)
	}
	return nil
}

func (s *PostgresStore) loadAttendees(ctx context.Context, tx pgx.Tx, partyID string) ([]Attendee, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, is_admin, joined_at
		FROM attendees
		WHERE party_id = $1
		ORDER BY joined_at ASC, id ASC
	`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attendees := make([]Attendee, 0)
	for rows.Next() {
		var att Attendee
		if err := rows.Scan(&att.ID, &att.Name, &att.Admin, &att.JoinedAt); err != nil {
			return nil, err
		}
		attendees = append(attendees, att)
	}
	return attendees, rows.Err()
}

// loadQueue reads the party's tracks and vote sets and derives scores and
// ordering in one place, so the sequence is a pure function of stored state.
func (s *PostgresStore) loadQueue(ctx context.Context, tx pgx.Tx, partyID string) ([]QueueTrack, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, catalog_id, title, artist_names, album_art_url, submitter_id, added_at
		FROM queue_tracks
		WHERE party_id = $1
		ORDER BY added_at ASC, id ASC
	`, partyID)
	if err != nil {
		return nil, err
	}

	queue := make([]QueueTrack, 0)
	index := make(map[string]int)
	for rows.Next() {
		var qt QueueTrack
		if err := rows.Scan(
			&qt.ID, &qt.Track.CatalogID, &qt.Track.Title, &qt.Track.ArtistNames,
			&qt.Track.AlbumArtURL, &qt.SubmitterID, &qt.AddedAt,
		); err != nil {
			rows.Close()
			return nil, err
		}
		qt.Upvoters = []string{}
		qt.Downvoters = []string{}
		index[qt.ID] = len(queue)
		queue = append(queue, qt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	voteRows, err := tx.Query(ctx, `
		SELECT v.track_id, v.attendee_id, v.direction
		FROM track_votes v
		JOIN queue_tracks qt ON qt.id = v.track_id
		WHERE qt.party_id = $1
		ORDER BY v.created_at ASC
	`, partyID)
	if err != nil {
		return nil, err
	}
	defer voteRows.Close()

	for voteRows.Next() {
		var trackID, attendeeID, direction string
		if err := voteRows.Scan(&trackID, &attendeeID, &direction); err != nil {
			return nil, err
		}
		i, ok := index[trackID]
		if !ok {
			continue
		}
		if direction == VoteUp {
			queue[i].Upvoters = append(queue[i].Upvoters, attendeeID)
		} else {
			queue[i].Downvoters = append(queue[i].Downvoters, attendeeID)
		}
	}
	if err := voteRows.Err(); err != nil {
		return nil, err
	}

	for i := range queue {
		queue[i].Score = len(queue[i].Upvoters) - len(queue[i].Downvoters)
	}
	sortQueue(queue)
	return queue, nil
}

func (s *PostgresStore) bumpVersion(ctx context.Context, tx pgx.Tx, partyID string) (int64, error) {
	var version int64
	err := tx.QueryRow(ctx, `
		UPDATE parties SET version = version + 1 WHERE id = $1 RETURNING version
	`, partyID).Scan(&version)
	return version, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalCurrent(qt *QueueTrack) ([]byte, error) {
	if qt == nil {
		return nil, nil
	}
	return json.Marshal(qt)
}

func unmarshalCurrent(raw []byte, p *Party) error {
	if len(raw) == 0 {
		return nil
	}
	var qt QueueTrack
	if err := json.Unmarshal(raw, &qt); err != nil {
		return err
	}
	p.CurrentTrack = &qt
	return nil
}
