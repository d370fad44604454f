package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// Store implements domain.Store on relational tables. Atomic reads take row
// locks so concurrent writers to the same records serialize.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Atomic runs fn inside one database transaction, committing only when fn
// succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.inTx(ctx, pgx.TxOptions{}, true, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.inTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) inTx(ctx context.Context, opts pgx.TxOptions, forUpdate bool, fn func(tx domain.Tx) error) error {
	ptx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = ptx.Rollback(ctx) }()

	if err := fn(&recordTx{ctx: ctx, tx: ptx, forUpdate: forUpdate}); err != nil {
		return err
	}
	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the Client.
func (s *Store) Close() error { return nil }

const streamCols = `address, creator, stream_id::text, title, start_time, end_time,
	lock_offset_secs, grace_period_secs, tip_bps, precision, config_hash,
	total_stake::text, total_by_choice::text, is_active, is_resolved,
	winning_choice, tip_amount::text, resolved_at, canceled_at`

func scanStream(row pgx.Row) (domain.Stream, error) {
	var (
		s                              domain.Stream
		addr, creator, configHash      []byte
		streamID, totalStake, tip, tbc string
		lockOffset, grace              int64
		tipBps                         int32
		precision, winning             int16
	)
	err := row.Scan(
		&addr, &creator, &streamID, &s.Title, &s.StartTime, &s.EndTime,
		&lockOffset, &grace, &tipBps, &precision, &configHash,
		&totalStake, &tbc, &s.IsActive, &s.IsResolved,
		&winning, &tip, &s.ResolvedAt, &s.CanceledAt,
	)
	if err != nil {
		return domain.Stream{}, err
	}
	var d decoder
	s.Address = d.addr(addr)
	s.Creator = d.addr(creator)
	s.StreamID = d.u64(streamID)
	s.LockOffsetSecs = uint32(lockOffset)
	s.GracePeriodSecs = uint32(grace)
	s.TipBps = uint16(tipBps)
	s.Precision = uint8(precision)
	s.ConfigHash = d.hash(configHash)
	s.TotalStake = d.u64(totalStake)
	s.TotalByChoice = d.choices(tbc)
	s.WinningChoice = uint8(winning)
	s.TipAmount = d.u64(tip)
	return s, d.err
}

// ListStreams returns streams newest first.
func (s *Store) ListStreams(ctx context.Context, filter domain.StreamFilter, opts domain.ListOpts) ([]domain.Stream, error) {
	query := `SELECT ` + streamCols + ` FROM streams WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Creator != nil {
		query += fmt.Sprintf(" AND creator = $%d", argIdx)
		args = append(args, filter.Creator.Bytes())
		argIdx++
	}
	if filter.SettledOnly {
		query += " AND (is_resolved OR canceled_at <> 0)"
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND start_time >= $%d", argIdx)
		args = append(args, opts.Since.Unix())
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND start_time < $%d", argIdx)
		args = append(args, opts.Until.Unix())
		argIdx++
	}

	query += " ORDER BY start_time DESC, address ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list streams: %w", err)
	}
	defer rows.Close()

	var out []domain.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stream: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list streams rows: %w", err)
	}
	return out, nil
}

// ListPredictions returns every prediction on stream ordered by timestamp.
func (s *Store) ListPredictions(ctx context.Context, stream domain.Address) ([]domain.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE stream = $1 ORDER BY ts, address`,
		stream.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions %s: %w", stream, err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list predictions rows: %w", err)
	}
	return out, nil
}

// recordTx implements domain.Tx on a pgx transaction.
type recordTx struct {
	ctx       context.Context
	tx        pgx.Tx
	forUpdate bool
}

func (t *recordTx) get(table, cols string, addr domain.Address) pgx.Row {
	query := `SELECT ` + cols + ` FROM ` + table + ` WHERE address = $1`
	if t.forUpdate {
		query += " FOR UPDATE"
	}
	return t.tx.QueryRow(t.ctx, query, addr.Bytes())
}

func notFound(kind string, addr domain.Address, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s %s: %w", kind, addr, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: get %s %s: %w", kind, addr, err)
}

func (t *recordTx) insert(kind string, addr domain.Address, query string, args ...any) error {
	tag, err := t.tx.Exec(t.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: create %s %s: %w", kind, addr, err)
	}
	return created(kind, addr, tag)
}

func created(kind string, addr domain.Address, tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create %s %s: %w", kind, addr, domain.ErrAlreadyExists)
	}
	return nil
}

func (t *recordTx) update(kind string, addr domain.Address, query string, args ...any) error {
	tag, err := t.tx.Exec(t.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: put %s %s: %w", kind, addr, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: put %s %s: %w", kind, addr, domain.ErrNotFound)
	}
	return nil
}

func (t *recordTx) Stream(addr domain.Address) (domain.Stream, error) {
	s, err := scanStream(t.get("streams", streamCols, addr))
	if err != nil {
		return domain.Stream{}, notFound("stream", addr, err)
	}
	return s, nil
}

func (t *recordTx) CreateStream(s domain.Stream) error {
	return t.insert("stream", s.Address, `
		INSERT INTO streams (
			address, creator, stream_id, title, start_time, end_time,
			lock_offset_secs, grace_period_secs, tip_bps, precision, config_hash,
			total_stake, total_by_choice, is_active, is_resolved,
			winning_choice, tip_amount, resolved_at, canceled_at
		) VALUES (
			$1, $2, $3::text::numeric, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12::text::numeric, $13::text::numeric[], $14, $15,
			$16, $17::text::numeric, $18, $19
		)
		ON CONFLICT (address) DO NOTHING`,
		streamArgs(s)...)
}

func (t *recordTx) PutStream(s domain.Stream) error {
	return t.update("stream", s.Address, `
		UPDATE streams SET
			creator = $2, stream_id = $3::text::numeric, title = $4,
			start_time = $5, end_time = $6,
			lock_offset_secs = $7, grace_period_secs = $8, tip_bps = $9,
			precision = $10, config_hash = $11,
			total_stake = $12::text::numeric, total_by_choice = $13::text::numeric[],
			is_active = $14, is_resolved = $15, winning_choice = $16,
			tip_amount = $17::text::numeric, resolved_at = $18, canceled_at = $19,
			updated_at = NOW()
		WHERE address = $1`,
		streamArgs(s)...)
}

func streamArgs(s domain.Stream) []any {
	return []any{
		s.Address.Bytes(), s.Creator.Bytes(), u64(s.StreamID), s.Title, s.StartTime, s.EndTime,
		int64(s.LockOffsetSecs), int64(s.GracePeriodSecs), int32(s.TipBps), int16(s.Precision), s.ConfigHash[:],
		u64(s.TotalStake), choiceArray(s.TotalByChoice), s.IsActive, s.IsResolved,
		int16(s.WinningChoice), u64(s.TipAmount), s.ResolvedAt, s.CanceledAt,
	}
}

const vaultCols = `address, stream, mint, token_account, total_deposited::text, total_released::text`

func scanVault(row pgx.Row) (domain.TokenVault, error) {
	var (
		addr, stream, mint, account []byte
		deposited, released         string
	)
	if err := row.Scan(&addr, &stream, &mint, &account, &deposited, &released); err != nil {
		return domain.TokenVault{}, err
	}
	var d decoder
	v := domain.TokenVault{
		Address:        d.addr(addr),
		Stream:         d.addr(stream),
		Mint:           d.addr(mint),
		TokenAccount:   d.addr(account),
		TotalDeposited: d.u64(deposited),
		TotalReleased:  d.u64(released),
	}
	return v, d.err
}

func (t *recordTx) Vault(addr domain.Address) (domain.TokenVault, error) {
	v, err := scanVault(t.get("token_vaults", vaultCols, addr))
	if err != nil {
		return domain.TokenVault{}, notFound("vault", addr, err)
	}
	return v, nil
}

func (t *recordTx) CreateVault(v domain.TokenVault) error {
	return t.insert("vault", v.Address, `
		INSERT INTO token_vaults (address, stream, mint, token_account, total_deposited, total_released)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric)
		ON CONFLICT (address) DO NOTHING`,
		v.Address.Bytes(), v.Stream.Bytes(), v.Mint.Bytes(), v.TokenAccount.Bytes(),
		u64(v.TotalDeposited), u64(v.TotalReleased))
}

func (t *recordTx) PutVault(v domain.TokenVault) error {
	return t.update("vault", v.Address, `
		UPDATE token_vaults SET
			total_deposited = $2::text::numeric,
			total_released  = $3::text::numeric
		WHERE address = $1`,
		v.Address.Bytes(), u64(v.TotalDeposited), u64(v.TotalReleased))
}

const predictionCols = `address, stream, viewer, choice, amount::text, ts, reward_claimed, refunded`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var (
		p                    domain.Prediction
		addr, stream, viewer []byte
		choice               int16
		amount               string
	)
	if err := row.Scan(&addr, &stream, &viewer, &choice, &amount, &p.Timestamp, &p.RewardClaimed, &p.Refunded); err != nil {
		return domain.Prediction{}, err
	}
	var d decoder
	p.Address = d.addr(addr)
	p.Stream = d.addr(stream)
	p.Viewer = d.addr(viewer)
	p.Choice = uint8(choice)
	p.Amount = d.u64(amount)
	return p, d.err
}

func (t *recordTx) Prediction(addr domain.Address) (domain.Prediction, error) {
	p, err := scanPrediction(t.get("predictions", predictionCols, addr))
	if err != nil {
		return domain.Prediction{}, notFound("prediction", addr, err)
	}
	return p, nil
}

func (t *recordTx) CreatePrediction(p domain.Prediction) error {
	return t.insert("prediction", p.Address, `
		INSERT INTO predictions (address, stream, viewer, choice, amount, ts, reward_claimed, refunded)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
		ON CONFLICT (address) DO NOTHING`,
		p.Address.Bytes(), p.Stream.Bytes(), p.Viewer.Bytes(), int16(p.Choice),
		u64(p.Amount), p.Timestamp, p.RewardClaimed, p.Refunded)
}

func (t *recordTx) PutPrediction(p domain.Prediction) error {
	return t.update("prediction", p.Address, `
		UPDATE predictions SET reward_claimed = $2, refunded = $3
		WHERE address = $1`,
		p.Address.Bytes(), p.RewardClaimed, p.Refunded)
}

const participantCols = `address, stream, viewer, stake_amount::text, joined_at, has_claimed`

func (t *recordTx) Participant(addr domain.Address) (domain.Participant, error) {
	var (
		p                     domain.Participant
		paddr, stream, viewer []byte
		stake                 string
	)
	err := t.get("participants", participantCols, addr).
		Scan(&paddr, &stream, &viewer, &stake, &p.JoinedAt, &p.HasClaimed)
	if err != nil {
		return domain.Participant{}, notFound("participant", addr, err)
	}
	var d decoder
	p.Address = d.addr(paddr)
	p.Stream = d.addr(stream)
	p.Viewer = d.addr(viewer)
	p.StakeAmount = d.u64(stake)
	if d.err != nil {
		return domain.Participant{}, fmt.Errorf("postgres: decode participant %s: %w", addr, d.err)
	}
	return p, nil
}

func (t *recordTx) CreateParticipant(p domain.Participant) error {
	return t.insert("participant", p.Address, `
		INSERT INTO participants (address, stream, viewer, stake_amount, joined_at, has_claimed)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6)
		ON CONFLICT (address) DO NOTHING`,
		p.Address.Bytes(), p.Stream.Bytes(), p.Viewer.Bytes(), u64(p.StakeAmount), p.JoinedAt, p.HasClaimed)
}

const communityCols = `address, authority, mint, token_account, total_contributions::text`

func (t *recordTx) CommunityVault(addr domain.Address) (domain.CommunityVault, error) {
	var (
		vaddr, authority, mint, account []byte
		total                           string
	)
	err := t.get("community_vaults", communityCols, addr).
		Scan(&vaddr, &authority, &mint, &account, &total)
	if err != nil {
		return domain.CommunityVault{}, notFound("community vault", addr, err)
	}
	var d decoder
	v := domain.CommunityVault{
		Address:            d.addr(vaddr),
		Authority:          d.addr(authority),
		Mint:               d.addr(mint),
		TokenAccount:       d.addr(account),
		TotalContributions: d.u64(total),
	}
	if d.err != nil {
		return domain.CommunityVault{}, fmt.Errorf("postgres: decode community vault: %w", d.err)
	}
	return v, nil
}

func (t *recordTx) CreateCommunityVault(v domain.CommunityVault) error {
	return t.insert("community vault", v.Address, `
		INSERT INTO community_vaults (address, authority, mint, token_account, total_contributions)
		VALUES ($1, $2, $3, $4, $5::text::numeric)
		ON CONFLICT (address) DO NOTHING`,
		v.Address.Bytes(), v.Authority.Bytes(), v.Mint.Bytes(), v.TokenAccount.Bytes(), u64(v.TotalContributions))
}

func (t *recordTx) PutCommunityVault(v domain.CommunityVault) error {
	return t.update("community vault", v.Address, `
		UPDATE community_vaults SET total_contributions = $2::text::numeric
		WHERE address = $1`,
		v.Address.Bytes(), u64(v.TotalContributions))
}

const accountCols = `address, mint, owner, balance::text`

func (t *recordTx) TokenAccount(addr domain.Address) (domain.TokenAccount, error) {
	var (
		aaddr, mint, owner []byte
		balance            string
	)
	err := t.get("token_accounts", accountCols, addr).Scan(&aaddr, &mint, &owner, &balance)
	if err != nil {
		return domain.TokenAccount{}, notFound("token account", addr, err)
	}
	var d decoder
	a := domain.TokenAccount{
		Address: d.addr(aaddr),
		Mint:    d.addr(mint),
		Owner:   d.addr(owner),
		Balance: d.u64(balance),
	}
	if d.err != nil {
		return domain.TokenAccount{}, fmt.Errorf("postgres: decode token account %s: %w", addr, d.err)
	}
	return a, nil
}

func (t *recordTx) CreateTokenAccount(a domain.TokenAccount) error {
	return t.insert("token account", a.Address, `
		INSERT INTO token_accounts (address, mint, owner, balance)
		VALUES ($1, $2, $3, $4::text::numeric)
		ON CONFLICT (address) DO NOTHING`,
		a.Address.Bytes(), a.Mint.Bytes(), a.Owner.Bytes(), u64(a.Balance))
}

func (t *recordTx) PutTokenAccount(a domain.TokenAccount) error {
	return t.update("token account", a.Address, `
		UPDATE token_accounts SET balance = $2::text::numeric
		WHERE address = $1`,
		a.Address.Bytes(), u64(a.Balance))
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*recordTx)(nil)
)
