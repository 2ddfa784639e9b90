// Package db persists the routing catalog: providers, endpoints, credentials
// and model aliases, including the per-signature health and circuit state the
// health monitor writes back.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/switchyardai/switchyard/internal/llm"
	"github.com/switchyardai/switchyard/internal/objects"
)

// Store is the SQLite-backed catalog store. SQLite only supports a single
// writer, so the connection pool is pinned to one connection and writes are
// serialized behind a mutex.
//
// The store uses a write-ahead log for concurrent read performance and
// checkpoints it in the background.
type Store struct {
	db                 *sql.DB
	path               string
	checkpointInterval time.Duration
	done               chan struct{}
	mu                 sync.RWMutex
	closeOnce          sync.Once

	upsertProviderStmt   *sql.Stmt
	upsertEndpointStmt   *sql.Stmt
	upsertCredentialStmt *sql.Stmt
	upsertAliasStmt      *sql.Stmt

	credentialStateStmt   *sql.Stmt
	credentialStatsStmt   *sql.Stmt
	credentialActiveStmt  *sql.Stmt
	credentialLimitStmt   *sql.Stmt
	credentialBlockStmt   *sql.Stmt
	credentialUnblockStmt *sql.Stmt
	endpointHealthStmt    *sql.Stmt
}

// NewStore opens (and creates, if missing) the catalog database.
func NewStore(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DSN, int(cfg.BusyTimeout.Milliseconds()))

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer only.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	store := &Store{
		db:                 sqlDB,
		path:               cfg.DSN,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		family TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		tags TEXT,
		conversion_enabled INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		signature TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		models TEXT,
		model_mappings TEXT,
		format_policy TEXT,
		health_score REAL NOT NULL DEFAULT 1.0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_endpoints_provider ON endpoints(provider_id);

	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		auth_type TEXT NOT NULL DEFAULT 'apikey',
		rpm_limit INTEGER,
		signatures TEXT,
		affinity_ttl_seconds INTEGER NOT NULL DEFAULT 0,
		oauth_invalid_at INTEGER,
		oauth_invalid_reason TEXT,
		stats TEXT,
		health_by_signature TEXT,
		circuit_breaker_by_signature TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credentials_provider ON credentials(provider_id);

	CREATE TABLE IF NOT EXISTS model_aliases (
		name TEXT PRIMARY KEY,
		global_model_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)

	return err
}

func (s *Store) prepareStatements() error {
	var err error

	s.upsertProviderStmt, err = s.db.Prepare(`
		INSERT INTO providers (id, name, family, active, priority, tags, conversion_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			family = excluded.family,
			active = excluded.active,
			priority = excluded.priority,
			tags = excluded.tags,
			conversion_enabled = excluded.conversion_enabled,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare provider upsert: %w", err)
	}

	s.upsertEndpointStmt, err = s.db.Prepare(`
		INSERT INTO endpoints (id, provider_id, name, url, signature, active, priority, models, model_mappings, format_policy, health_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = excluded.provider_id,
			name = excluded.name,
			url = excluded.url,
			signature = excluded.signature,
			active = excluded.active,
			priority = excluded.priority,
			models = excluded.models,
			model_mappings = excluded.model_mappings,
			format_policy = excluded.format_policy,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare endpoint upsert: %w", err)
	}

	s.upsertCredentialStmt, err = s.db.Prepare(`
		INSERT INTO credentials (id, provider_id, name, active, priority, auth_type, rpm_limit, signatures, affinity_ttl_seconds, oauth_invalid_at, oauth_invalid_reason, stats, health_by_signature, circuit_breaker_by_signature, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = excluded.provider_id,
			name = excluded.name,
			active = excluded.active,
			priority = excluded.priority,
			auth_type = excluded.auth_type,
			rpm_limit = excluded.rpm_limit,
			signatures = excluded.signatures,
			affinity_ttl_seconds = excluded.affinity_ttl_seconds,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare credential upsert: %w", err)
	}

	s.upsertAliasStmt, err = s.db.Prepare(`
		INSERT INTO model_aliases (name, global_model_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			global_model_id = excluded.global_model_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare alias upsert: %w", err)
	}

	s.credentialStateStmt, err = s.db.Prepare(`
		UPDATE credentials SET health_by_signature = ?, circuit_breaker_by_signature = ?, updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare credential state update: %w", err)
	}

	s.credentialStatsStmt, err = s.db.Prepare(`
		UPDATE credentials SET stats = ?, updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare credential stats update: %w", err)
	}

	s.credentialActiveStmt, err = s.db.Prepare(`
		UPDATE credentials SET active = ?, updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare credential active update: %w", err)
	}

	s.credentialLimitStmt, err = s.db.Prepare(`
		UPDATE credentials SET rpm_limit = ?, updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare credential limit update: %w", err)
	}

	s.credentialBlockStmt, err = s.db.Prepare(`
		UPDATE credentials SET active = 0, oauth_invalid_at = ?, oauth_invalid_reason = ?, updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare credential block update: %w", err)
	}

	s.credentialUnblockStmt, err = s.db.Prepare(`
		UPDATE credentials SET oauth_invalid_at = NULL, oauth_invalid_reason = '', updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare credential unblock update: %w", err)
	}

	s.endpointHealthStmt, err = s.db.Prepare(`
		UPDATE endpoints SET health_score = ?, updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare endpoint health update: %w", err)
	}

	return nil
}

// Empty reports whether the catalog has no providers. Used to decide whether
// to apply the declarative seed.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM providers`).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count providers: %w", err)
	}

	return count == 0, nil
}

// UpsertProvider inserts or updates a provider.
func (s *Store) UpsertProvider(ctx context.Context, p objects.Provider) error {
	if p.ID == "" {
		return fmt.Errorf("provider id cannot be empty")
	}

	tags, err := marshalJSON(p.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal provider tags: %w", err)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.upsertProviderStmt.ExecContext(ctx,
		p.ID, p.Name, p.Family, boolToInt(p.Active), p.Priority,
		tags, boolToInt(p.ConversionEnabled), p.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider: %w", err)
	}

	return nil
}

// UpsertEndpoint inserts or updates an endpoint. The health score column is
// owned by UpdateEndpointHealthScore and is only set on insert.
func (s *Store) UpsertEndpoint(ctx context.Context, e objects.Endpoint) error {
	if e.ID == "" {
		return fmt.Errorf("endpoint id cannot be empty")
	}

	if _, err := llm.ParseSignature(e.Signature); err != nil {
		return fmt.Errorf("invalid endpoint signature: %w", err)
	}

	models, err := marshalJSON(e.Models)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint models: %w", err)
	}

	mappings, err := marshalJSON(e.ModelMappings)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint model mappings: %w", err)
	}

	policy, err := marshalJSON(e.FormatPolicy)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint format policy: %w", err)
	}

	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	healthScore := e.HealthScore
	if healthScore == 0 {
		healthScore = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.upsertEndpointStmt.ExecContext(ctx,
		e.ID, e.ProviderID, e.Name, e.URL, e.Signature, boolToInt(e.Active), e.Priority,
		models, mappings, policy, healthScore, e.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert endpoint: %w", err)
	}

	return nil
}

// UpsertCredential inserts or updates a credential. The stats, health and
// circuit columns are owned by the monitor write-back paths and are only set
// on insert.
func (s *Store) UpsertCredential(ctx context.Context, c objects.Credential) error {
	if c.ID == "" {
		return fmt.Errorf("credential id cannot be empty")
	}

	signatures, err := marshalJSON(c.Signatures)
	if err != nil {
		return fmt.Errorf("failed to marshal credential signatures: %w", err)
	}

	stats, err := marshalJSON(c.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal credential stats: %w", err)
	}

	health, err := marshalJSON(c.HealthBySignature)
	if err != nil {
		return fmt.Errorf("failed to marshal credential health map: %w", err)
	}

	circuit, err := marshalJSON(c.CircuitBySignature)
	if err != nil {
		return fmt.Errorf("failed to marshal credential circuit map: %w", err)
	}

	authType := c.AuthType
	if authType == "" {
		authType = objects.AuthTypeAPIKey
	}

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.upsertCredentialStmt.ExecContext(ctx,
		c.ID, c.ProviderID, c.Name, boolToInt(c.Active), c.Priority, string(authType),
		nullableInt(c.RPMLimit), signatures, c.AffinityTTLSeconds,
		nullableTime(c.OAuthInvalidAt), c.OAuthInvalidReason,
		stats, health, circuit, c.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// UpsertModelAlias inserts or updates a model alias.
func (s *Store) UpsertModelAlias(ctx context.Context, a objects.ModelAlias) error {
	if a.Name == "" {
		return fmt.Errorf("alias name cannot be empty")
	}

	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.upsertAliasStmt.ExecContext(ctx, a.Name, a.GlobalModelID, a.CreatedAt.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert model alias: %w", err)
	}

	return nil
}

// ListProviders returns all providers.
func (s *Store) ListProviders(ctx context.Context) ([]objects.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, family, active, priority, tags, conversion_enabled, created_at, updated_at
		FROM providers
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []objects.Provider

	for rows.Next() {
		var (
			p                  objects.Provider
			active, conversion int
			tags               sql.NullString
			createdAt          int64
			updatedAt          int64
		)

		err := rows.Scan(&p.ID, &p.Name, &p.Family, &active, &p.Priority, &tags, &conversion, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}

		p.Active = active != 0
		p.ConversionEnabled = conversion != 0
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)

		if err := unmarshalJSON(tags, &p.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode provider tags: %w", err)
		}

		providers = append(providers, p)
	}

	return providers, rows.Err()
}

// ListEndpoints returns all endpoints.
func (s *Store) ListEndpoints(ctx context.Context) ([]objects.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_id, name, url, signature, active, priority, models, model_mappings, format_policy, health_score, created_at, updated_at
		FROM endpoints
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []objects.Endpoint

	for rows.Next() {
		var (
			e                        objects.Endpoint
			active                   int
			models, mappings, policy sql.NullString
			createdAt, updatedAt     int64
		)

		err := rows.Scan(&e.ID, &e.ProviderID, &e.Name, &e.URL, &e.Signature, &active, &e.Priority,
			&models, &mappings, &policy, &e.HealthScore, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}

		e.Active = active != 0
		e.CreatedAt = time.Unix(createdAt, 0)
		e.UpdatedAt = time.Unix(updatedAt, 0)

		if err := unmarshalJSON(models, &e.Models); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint models: %w", err)
		}

		if err := unmarshalJSON(mappings, &e.ModelMappings); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint model mappings: %w", err)
		}

		if err := unmarshalJSON(policy, &e.FormatPolicy); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint format policy: %w", err)
		}

		endpoints = append(endpoints, e)
	}

	return endpoints, rows.Err()
}

// ListCredentials returns all credentials, including their persisted health
// and circuit maps.
func (s *Store) ListCredentials(ctx context.Context) ([]objects.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_id, name, active, priority, auth_type, rpm_limit, signatures, affinity_ttl_seconds, oauth_invalid_at, oauth_invalid_reason, stats, health_by_signature, circuit_breaker_by_signature, created_at, updated_at
		FROM credentials
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []objects.Credential

	for rows.Next() {
		var (
			c                                  objects.Credential
			active                             int
			authType                           string
			rpmLimit                           sql.NullInt64
			signatures, stats, health, circuit sql.NullString
			oauthInvalidAt                     sql.NullInt64
			oauthInvalidReason                 sql.NullString
			createdAt, updatedAt               int64
		)

		err := rows.Scan(&c.ID, &c.ProviderID, &c.Name, &active, &c.Priority, &authType,
			&rpmLimit, &signatures, &c.AffinityTTLSeconds, &oauthInvalidAt, &oauthInvalidReason,
			&stats, &health, &circuit, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}

		c.Active = active != 0
		c.AuthType = objects.AuthType(authType)
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(updatedAt, 0)

		if rpmLimit.Valid {
			limit := int(rpmLimit.Int64)
			c.RPMLimit = &limit
		}

		if oauthInvalidAt.Valid {
			at := time.Unix(oauthInvalidAt.Int64, 0)
			c.OAuthInvalidAt = &at
		}

		if oauthInvalidReason.Valid {
			c.OAuthInvalidReason = oauthInvalidReason.String
		}

		if err := unmarshalJSON(signatures, &c.Signatures); err != nil {
			return nil, fmt.Errorf("failed to decode credential signatures: %w", err)
		}

		if err := unmarshalJSON(stats, &c.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode credential stats: %w", err)
		}

		if err := unmarshalJSON(health, &c.HealthBySignature); err != nil {
			return nil, fmt.Errorf("failed to decode credential health map: %w", err)
		}

		if err := unmarshalJSON(circuit, &c.CircuitBySignature); err != nil {
			return nil, fmt.Errorf("failed to decode credential circuit map: %w", err)
		}

		credentials = append(credentials, c)
	}

	return credentials, rows.Err()
}

// ListModelAliases returns all model aliases.
func (s *Store) ListModelAliases(ctx context.Context) ([]objects.ModelAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, global_model_id, created_at, updated_at FROM model_aliases
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model aliases: %w", err)
	}
	defer rows.Close()

	var aliases []objects.ModelAlias

	for rows.Next() {
		var (
			a                    objects.ModelAlias
			createdAt, updatedAt int64
		)

		if err := rows.Scan(&a.Name, &a.GlobalModelID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model alias: %w", err)
		}

		a.CreatedAt = time.Unix(createdAt, 0)
		a.UpdatedAt = time.Unix(updatedAt, 0)

		aliases = append(aliases, a)
	}

	return aliases, rows.Err()
}

// UpdateCredentialState writes back the per-signature health and circuit maps.
func (s *Store) UpdateCredentialState(ctx context.Context, id string, health map[string]objects.HealthRecord, circuit map[string]objects.CircuitState) error {
	healthJSON, err := marshalJSON(health)
	if err != nil {
		return fmt.Errorf("failed to marshal health map: %w", err)
	}

	circuitJSON, err := marshalJSON(circuit)
	if err != nil {
		return fmt.Errorf("failed to marshal circuit map: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.credentialStateStmt.ExecContext(ctx, healthJSON, circuitJSON, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update credential state: %w", err)
	}

	return nil
}

// UpdateCredentialStats writes back the global per-credential counters.
func (s *Store) UpdateCredentialStats(ctx context.Context, id string, stats objects.CredentialStats) error {
	statsJSON, err := marshalJSON(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.credentialStatsStmt.ExecContext(ctx, statsJSON, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update credential stats: %w", err)
	}

	return nil
}

// SetCredentialActive toggles a credential's active flag.
func (s *Store) SetCredentialActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.credentialActiveStmt.ExecContext(ctx, boolToInt(active), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set credential active: %w", err)
	}

	return nil
}

// SetCredentialRPMLimit sets or clears a credential's per-minute limit.
func (s *Store) SetCredentialRPMLimit(ctx context.Context, id string, limit *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.credentialLimitStmt.ExecContext(ctx, nullableInt(limit), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set credential rpm limit: %w", err)
	}

	return nil
}

// BlockCredentialOAuth deactivates a credential and stamps the OAuth
// invalidation fields.
func (s *Store) BlockCredentialOAuth(ctx context.Context, id string, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.credentialBlockStmt.ExecContext(ctx, at.Unix(), reason, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to block credential: %w", err)
	}

	return nil
}

// ClearCredentialOAuthBlock removes the OAuth invalidation stamp.
func (s *Store) ClearCredentialOAuthBlock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.credentialUnblockStmt.ExecContext(ctx, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to clear credential oauth block: %w", err)
	}

	return nil
}

// UpdateEndpointHealthScore writes back the aggregate endpoint health score.
func (s *Store) UpdateEndpointHealthScore(ctx context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.endpointHealthStmt.ExecContext(ctx, score, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update endpoint health score: %w", err)
	}

	return nil
}

// Close checkpoints the WAL and closes the database. Safe to call more than
// once.
func (s *Store) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		stmts := []*sql.Stmt{
			s.upsertProviderStmt, s.upsertEndpointStmt, s.upsertCredentialStmt, s.upsertAliasStmt,
			s.credentialStateStmt, s.credentialStatsStmt, s.credentialActiveStmt,
			s.credentialLimitStmt, s.credentialBlockStmt, s.credentialUnblockStmt,
			s.endpointHealthStmt,
		}
		for _, stmt := range stmts {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

func (s *Store) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func unmarshalJSON(s sql.NullString, target any) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}

	return json.Unmarshal([]byte(s.String), target)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}

	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.Unix()
}
