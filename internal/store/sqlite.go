package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/helmwind/browserpilot/internal/domain/session/model"
)

const schemaVersion = 1

// SQLiteStore persists fingerprint profiles and plugin configurations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// _pragma in the DSN applies to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("profile store: migration failed: %w", err)
	}
	return s, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS fingerprint_profiles (
		tenant_id INTEGER NOT NULL,
		profile_id INTEGER NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		browser_family TEXT NOT NULL DEFAULT '',
		viewport_w INTEGER NOT NULL DEFAULT 1280,
		viewport_h INTEGER NOT NULL DEFAULT 720,
		locale TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		proxy TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		descriptor_json TEXT,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, profile_id)
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_tenant ON fingerprint_profiles(tenant_id);

	-- profile_id 0 stores a tenant-wide default (profile ids start at 1).
	CREATE TABLE IF NOT EXISTS plugin_configs (
		tenant_id INTEGER NOT NULL,
		profile_id INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		config_json TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, profile_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_plugin_configs_tenant ON plugin_configs(tenant_id);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveProfile upserts a fingerprint profile.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p model.Profile) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fingerprint_profiles
			(tenant_id, profile_id, platform, browser_family, viewport_w, viewport_h,
			 locale, timezone, proxy, user_agent, descriptor_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, profile_id) DO UPDATE SET
			platform = excluded.platform,
			browser_family = excluded.browser_family,
			viewport_w = excluded.viewport_w,
			viewport_h = excluded.viewport_h,
			locale = excluded.locale,
			timezone = excluded.timezone,
			proxy = excluded.proxy,
			user_agent = excluded.user_agent,
			descriptor_json = excluded.descriptor_json,
			updated_at_ms = excluded.updated_at_ms`,
		p.Tenant, p.ID, p.Platform, p.BrowserFamily, p.ViewportW, p.ViewportH,
		p.Locale, p.Timezone, p.Proxy, p.UserAgent, nullableJSON(p.Descriptor), now, now)
	return err
}

// Load implements ports.FingerprintStore.
func (s *SQLiteStore) Load(ctx context.Context, tenant model.TenantID, profile model.ProfileID) (model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT platform, browser_family, viewport_w, viewport_h, locale, timezone, proxy, user_agent, descriptor_json
		FROM fingerprint_profiles WHERE tenant_id = ? AND profile_id = ?`, tenant, profile)

	p := model.Profile{ID: profile, Tenant: tenant}
	var descriptor sql.NullString
	err := row.Scan(&p.Platform, &p.BrowserFamily, &p.ViewportW, &p.ViewportH,
		&p.Locale, &p.Timezone, &p.Proxy, &p.UserAgent, &descriptor)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, model.ErrProfileNotFound
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("load profile %d:%d: %w", tenant, profile, err)
	}
	if descriptor.Valid && descriptor.String != "" {
		p.Descriptor = json.RawMessage(descriptor.String)
	}
	return p, nil
}

// Count implements ports.FingerprintStore.
func (s *SQLiteStore) Count(ctx context.Context, tenant model.TenantID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fingerprint_profiles WHERE tenant_id = ?", tenant).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count profiles for tenant %d: %w", tenant, err)
	}
	return n, nil
}

// SavePlugin upserts one plugin configuration. Profile 0 stores a
// tenant-wide default.
func (s *SQLiteStore) SavePlugin(ctx context.Context, tenant model.TenantID, profile model.ProfileID, spec model.PluginSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plugin_configs (tenant_id, profile_id, kind, name, enabled, config_json, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, profile_id, kind) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			config_json = excluded.config_json,
			updated_at_ms = excluded.updated_at_ms`,
		tenant, profile, spec.Kind, spec.Name, spec.Enabled, string(payload), time.Now().UnixMilli())
	return err
}

// LoadPlugins implements ports.PluginConfigStore.
func (s *SQLiteStore) LoadPlugins(ctx context.Context, tenant model.TenantID, profile model.ProfileID) ([]model.PluginSpec, error) {
	defaults, err := s.queryPlugins(ctx,
		"SELECT config_json FROM plugin_configs WHERE tenant_id = ? AND profile_id = 0", tenant)
	if err != nil {
		return nil, err
	}
	overrides, err := s.queryPlugins(ctx,
		"SELECT config_json FROM plugin_configs WHERE tenant_id = ? AND profile_id = ?", tenant, profile)
	if err != nil {
		return nil, err
	}
	return mergePluginSpecs(defaults, overrides), nil
}

func (s *SQLiteStore) queryPlugins(ctx context.Context, query string, args ...any) ([]model.PluginSpec, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plugin configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var specs []model.PluginSpec
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var spec model.PluginSpec
		if err := json.Unmarshal([]byte(payload), &spec); err != nil {
			return nil, fmt.Errorf("decode plugin config: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
