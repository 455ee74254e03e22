// Package postgres implements the credential store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sony/gobreaker"

	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/store"
)

// Options configures the Postgres store.
type Options struct {
	// QueryTimeout bounds every store call. Zero means DefaultQueryTimeout.
	QueryTimeout time.Duration

	// BreakerMaxFailures is the consecutive-failure count that opens the
	// circuit. Zero means DefaultBreakerMaxFailures.
	BreakerMaxFailures uint32

	// BreakerTimeout is how long the circuit stays open before probing.
	BreakerTimeout time.Duration

	// Logger is the structured logger. Defaults to a nop logger.
	Logger observability.Logger
}

// Default option values.
const (
	DefaultQueryTimeout       = 2 * time.Second
	DefaultBreakerMaxFailures = 5
	DefaultBreakerTimeout     = 10 * time.Second
)

// Store implements store.Store on PostgreSQL via the pgx stdlib driver.
type Store struct {
	db           *sql.DB
	breaker      *gobreaker.CircuitBreaker
	queryTimeout time.Duration
	logger       observability.Logger
}

// Open connects to PostgreSQL and wraps the pool in a circuit breaker so a
// failing backend surfaces promptly as store.ErrUnavailable instead of
// piling up blocked verification requests.
func Open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return NewWithDB(db, opts), nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sql.DB, opts Options) *Store {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.BreakerMaxFailures == 0 {
		opts.BreakerMaxFailures = DefaultBreakerMaxFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = DefaultBreakerTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Store{
		db:           db,
		queryTimeout: opts.QueryTimeout,
		logger:       logger,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "credential-store",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerMaxFailures
		},
		// Missing records are a domain answer, not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, store.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit state change",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return s
}

// execute runs fn through the circuit breaker with a bounded timeout.
func (s *Store) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	return mapError(err)
}

// mapError normalizes driver and breaker errors to store sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open", store.ErrUnavailable)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}

// GetPrincipalWithRole implements store.PrincipalStore.
func (s *Store) GetPrincipalWithRole(ctx context.Context, id int64) (store.Principal, store.Role, error) {
	var (
		p          store.Principal
		r          store.Role
		services   []byte
		policies   []byte
		ttlSeconds int64
	)
	err := s.execute(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			select p.id, p.handle, p.display_name, p.active, p.role_name,
			       p.secret_hash, p.rate_limit_override, p.last_login_at,
			       r.allowed_services, r.operation_policies,
			       r.rate_limit, r.daily_cost_limit, r.token_ttl_seconds
			from principals p
			join roles r on r.name = p.role_name
			where p.id = $1
		`, id)
		err := row.Scan(
			&p.ID, &p.Handle, &p.DisplayName, &p.Active, &p.RoleName,
			&p.SecretHash, &p.RateLimitOverride, &p.LastLoginAt,
			&services, &policies,
			&r.RateLimit, &r.DailyCostLimit, &ttlSeconds,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	})
	if err != nil {
		return store.Principal{}, store.Role{}, err
	}

	r.Name = p.RoleName
	r.TokenTTL = time.Duration(ttlSeconds) * time.Second
	if err := json.Unmarshal(services, &r.AllowedServices); err != nil {
		return store.Principal{}, store.Role{}, fmt.Errorf("decode allowed_services for role %s: %w", r.Name, err)
	}
	if len(policies) > 0 {
		if err := json.Unmarshal(policies, &r.OperationPolicies); err != nil {
			return store.Principal{}, store.Role{}, fmt.Errorf("decode operation_policies for role %s: %w", r.Name, err)
		}
	}
	return p, r, nil
}

// scanPrincipal scans the shared principal column set.
func scanPrincipal(row *sql.Row) (store.Principal, error) {
	var p store.Principal
	err := row.Scan(
		&p.ID, &p.Handle, &p.DisplayName, &p.Active, &p.RoleName,
		&p.SecretHash, &p.RateLimitOverride, &p.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Principal{}, store.ErrNotFound
	}
	return p, err
}

const principalColumns = `id, handle, display_name, active, role_name,
	secret_hash, rate_limit_override, last_login_at`

// FindPrincipalByHandle implements store.PrincipalStore.
func (s *Store) FindPrincipalByHandle(ctx context.Context, handle string) (store.Principal, error) {
	var p store.Principal
	err := s.execute(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			`select `+principalColumns+` from principals where handle = $1`, handle)
		var scanErr error
		p, scanErr = scanPrincipal(row)
		return scanErr
	})
	if err != nil {
		return store.Principal{}, err
	}
	return p, nil
}

// FindPrincipalByAPIKey implements store.PrincipalStore.
func (s *Store) FindPrincipalByAPIKey(ctx context.Context, keyHash string) (store.Principal, error) {
	var p store.Principal
	err := s.execute(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			`select `+principalColumns+` from principals where api_key_hash = $1`, keyHash)
		var scanErr error
		p, scanErr = scanPrincipal(row)
		return scanErr
	})
	if err != nil {
		return store.Principal{}, err
	}
	return p, nil
}

// GetTeamsForPrincipal implements store.PrincipalStore.
func (s *Store) GetTeamsForPrincipal(ctx context.Context, id int64) ([]store.Team, error) {
	var teams []store.Team
	err := s.execute(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			select t.name, t.service_restriction, t.rate_limit, t.daily_cost_limit
			from teams t
			join team_members m on m.team_name = t.name
			where m.principal_id = $1
			order by t.name
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				team        store.Team
				restriction []byte
			)
			if err := rows.Scan(&team.Name, &restriction, &team.RateLimit, &team.DailyCostLimit); err != nil {
				return err
			}
			if len(restriction) > 0 {
				if err := json.Unmarshal(restriction, &team.ServiceRestriction); err != nil {
					return fmt.Errorf("decode service_restriction for team %s: %w", team.Name, err)
				}
			}
			teams = append(teams, team)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return teams, nil
}

// GetOverride implements store.PrincipalStore.
func (s *Store) GetOverride(ctx context.Context, id int64) (*store.Override, error) {
	var (
		o          store.Override
		services   []byte
		operations []byte
		found      bool
	)
	err := s.execute(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			select principal_id, denied_services, denied_operations, rate_limit, daily_cost_limit
			from overrides where principal_id = $1
		`, id)
		err := row.Scan(&o.PrincipalID, &services, &operations, &o.RateLimit, &o.DailyCostLimit)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if len(services) > 0 {
		if err := json.Unmarshal(services, &o.DeniedServices); err != nil {
			return nil, fmt.Errorf("decode denied_services for principal %d: %w", id, err)
		}
	}
	if len(operations) > 0 {
		if err := json.Unmarshal(operations, &o.DeniedOperations); err != nil {
			return nil, fmt.Errorf("decode denied_operations for principal %d: %w", id, err)
		}
	}
	return &o, nil
}

// TouchLogin implements store.PrincipalStore.
func (s *Store) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	return s.execute(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`update principals set last_login_at = $2 where id = $1`, id, at)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// InsertSession implements store.SessionStore.
func (s *Store) InsertSession(ctx context.Context, principalID int64, tokenHash string, expiresAt time.Time) error {
	return s.execute(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			insert into sessions (principal_id, token_hash, expires_at, created_at)
			values ($1, $2, $3, now())
			on conflict (token_hash) do nothing
		`, principalID, tokenHash, expiresAt)
		return err
	})
}

// LinkRefreshToken implements store.SessionStore.
func (s *Store) LinkRefreshToken(ctx context.Context, principalID int64, refreshHash string) error {
	return s.execute(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			update sessions set refresh_token_hash = $2
			where token_hash = (
				select token_hash from sessions
				where principal_id = $1 and expires_at > now()
				order by created_at desc
				limit 1
			)
		`, principalID, refreshHash)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// DeleteExpiredSessions implements store.SessionStore.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := s.execute(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`delete from sessions where expires_at <= $1`, now)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// IsRevoked implements store.RevocationStore. The check deliberately goes to
// the backend on every call; revocation freshness is security-relevant.
func (s *Store) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var revoked bool
	err := s.execute(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			select exists (
				select 1 from revocations
				where token_hash = $1 and expires_at > now()
			)
		`, tokenHash)
		return row.Scan(&revoked)
	})
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// InsertRevocation implements store.RevocationStore. Last write wins on the
// expiry value so repeated revocation stays idempotent.
func (s *Store) InsertRevocation(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	return s.execute(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			insert into revocations (token_hash, expires_at)
			values ($1, $2)
			on conflict (token_hash) do update set expires_at = excluded.expires_at
		`, tokenHash, expiresAt)
		return err
	})
}

// PruneExpired implements store.RevocationStore.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := s.execute(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`delete from revocations where expires_at <= $1`, now)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.execute(ctx, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
