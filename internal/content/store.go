package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/any-hub/p2-hub/internal/blob"
	"github.com/any-hub/p2-hub/internal/cache"
)

// Store 是组件/资源记录与正文文件的组合视图。
type Store struct {
	db    *sql.DB
	blobs cache.Store
	now   func() time.Time
}

// Open 打开数据库并执行建表迁移。
func Open(cfg Config, blobs cache.Store) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("blob store required")
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, blobs: blobs, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS components (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repository TEXT NOT NULL,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			UNIQUE (repository, name, version)
		);
		CREATE TABLE IF NOT EXISTS assets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repository TEXT NOT NULL,
			path TEXT NOT NULL,
			component_id INTEGER REFERENCES components(id) ON DELETE SET NULL,
			kind TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			content_type TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			digest TEXT NOT NULL DEFAULT '',
			upstream_etag TEXT NOT NULL DEFAULT '',
			upstream_modified INTEGER,
			last_downloaded INTEGER,
			last_verified INTEGER,
			expires_at INTEGER,
			created_at INTEGER NOT NULL,
			UNIQUE (repository, path)
		);
		CREATE TABLE IF NOT EXISTS child_hosts (
			repository TEXT NOT NULL,
			host TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (repository, host)
		);
		CREATE INDEX IF NOT EXISTS idx_assets_component_id ON assets(component_id);
		CREATE INDEX IF NOT EXISTS idx_assets_digest ON assets(repository, digest);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// FindOrCreateComponent 按 (repository, name, version) 查找组件，不存在时创建。
// 并发调用依赖唯一约束收敛到同一条记录。
func (s *Store) FindOrCreateComponent(ctx context.Context, repository, name, version string, attrs map[string]string) (*Component, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if repository == "" || name == "" || version == "" {
		return nil, fmt.Errorf("component key incomplete: repository=%q name=%q version=%q", repository, name, version)
	}
	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return nil, err
	}

	return upsertComponent(ctx, s.db, repository, name, version, encoded, s.now())
}

// FindComponent 按主键读取组件。
func (s *Store) FindComponent(ctx context.Context, id int64) (*Component, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repository, name, version, attributes, created_at FROM components WHERE id = ?`, id)
	return scanComponent(row)
}

// FindOrCreateAsset 按 (repository, path) 查找资源，不存在时创建。已存在的资源会更新
// kind/属性，并在提供 componentID 时改为关联该组件；因此被替换的旧组件若无其它资源会被删除。
func (s *Store) FindOrCreateAsset(ctx context.Context, repository, path string, componentID int64, attrs AssetAttributes) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	encoded, err := encodeAttributes(attrs.Format)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := s.upsertAsset(ctx, tx, repository, path, componentID, attrs.Kind, encoded); err != nil {
		return nil, err
	}
	asset, err := scanAsset(tx.QueryRowContext(ctx, selectAsset+` WHERE repository = ? AND path = ?`, repository, path))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return asset, nil
}

// SaveAsset 持久化一次完整的回源结果：先写入正文文件，再在同一事务中创建组件、
// 创建或更新资源并写入正文信息与 CacheInfo。任一步失败时数据库不留下任何记录，
// 新写入且无人引用的正文文件会被删除。tb 的所有权不被消费。
func (s *Store) SaveAsset(ctx context.Context, w AssetWrite) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.Repository == "" || w.Path == "" || w.Blob == nil {
		return nil, errors.New("repository, path and blob required")
	}
	encoded, err := encodeAttributes(w.Attributes.Format)
	if err != nil {
		return nil, err
	}
	var componentAttrs string
	if w.Component != nil {
		if w.Component.Name == "" || w.Component.Version == "" {
			return nil, fmt.Errorf("component key incomplete: name=%q version=%q", w.Component.Name, w.Component.Version)
		}
		if componentAttrs, err = encodeAttributes(w.Component.Attributes); err != nil {
			return nil, err
		}
	}

	digest := w.Blob.Digest()
	if err := s.putBlob(ctx, w.Repository, w.Blob, w.Meta); err != nil {
		return nil, err
	}

	asset, previousDigest, err := s.saveRecords(ctx, w, encoded, componentAttrs)
	if err != nil {
		// 事务已回滚；上下文可能已取消，清理使用独立上下文
		if relErr := s.releaseBlob(context.WithoutCancel(ctx), w.Repository, digest); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return nil, err
	}
	if previousDigest != "" && previousDigest != digest {
		if err := s.releaseBlob(ctx, w.Repository, previousDigest); err != nil {
			return nil, err
		}
	}
	return asset, nil
}

func (s *Store) saveRecords(ctx context.Context, w AssetWrite, encoded, componentAttrs string) (*Asset, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback() //nolint:errcheck

	var componentID int64
	if w.Component != nil {
		component, err := upsertComponent(ctx, tx, w.Repository, w.Component.Name, w.Component.Version, componentAttrs, s.now())
		if err != nil {
			return nil, "", err
		}
		componentID = component.ID
	}

	previousDigest, err := s.upsertAsset(ctx, tx, w.Repository, w.Path, componentID, w.Attributes.Kind, encoded)
	if err != nil {
		return nil, "", err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE assets SET content_type = ?, size = ?, digest = ?, upstream_etag = ?, upstream_modified = ?,
		 last_verified = ?, expires_at = ?
		 WHERE repository = ? AND path = ?`,
		w.Meta.ContentType, w.Blob.Size(), w.Blob.Digest(), w.Meta.UpstreamETag, nullTime(w.Meta.UpstreamModified),
		nullTime(w.CacheInfo.LastVerified), nullTime(w.CacheInfo.ExpiresAt),
		w.Repository, w.Path,
	)
	if err != nil {
		return nil, "", fmt.Errorf("update asset blob: %w", err)
	}

	asset, err := scanAsset(tx.QueryRowContext(ctx, selectAsset+` WHERE repository = ? AND path = ?`, w.Repository, w.Path))
	if err != nil {
		return nil, "", err
	}
	if err := tx.Commit(); err != nil {
		return nil, "", err
	}
	return asset, previousDigest, nil
}

// FindAsset 返回指定路径的资源，不存在时返回 ErrNotFound。
func (s *Store) FindAsset(ctx context.Context, repository, path string) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scanAsset(s.db.QueryRowContext(ctx, selectAsset+` WHERE repository = ? AND path = ?`, repository, path))
}

// AttachBlob 把临时 blob 写入正文存储并更新资源的正文信息。tb 的所有权不被消费。
// 替换下来的旧正文在没有其它资源引用时删除。
func (s *Store) AttachBlob(ctx context.Context, asset *Asset, tb *blob.TempBlob, meta BlobMeta) error {
	if asset == nil || tb == nil {
		return errors.New("asset and blob required")
	}
	if err := s.putBlob(ctx, asset.Repository, tb, meta); err != nil {
		return err
	}

	previous := asset.Digest
	_, err := s.db.ExecContext(ctx,
		`UPDATE assets SET content_type = ?, size = ?, digest = ?, upstream_etag = ?, upstream_modified = ?
		 WHERE id = ?`,
		meta.ContentType, tb.Size(), tb.Digest(), meta.UpstreamETag, nullTime(meta.UpstreamModified), asset.ID,
	)
	if err != nil {
		return fmt.Errorf("update asset blob: %w", err)
	}

	asset.ContentType = meta.ContentType
	asset.Size = tb.Size()
	asset.Digest = tb.Digest()
	asset.UpstreamETag = meta.UpstreamETag
	asset.UpstreamModified = meta.UpstreamModified

	if previous != "" && previous != asset.Digest {
		return s.releaseBlob(ctx, asset.Repository, previous)
	}
	return nil
}

// OpenBlob 打开资源正文，调用方负责关闭 Reader。
func (s *Store) OpenBlob(ctx context.Context, asset *Asset) (*cache.ReadResult, error) {
	if !asset.HasBlob() {
		return nil, ErrNotFound
	}
	result, err := s.blobs.Get(ctx, cache.Locator{Repository: asset.Repository, Digest: asset.Digest})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrNotFound
	}
	return result, err
}

// MarkDownloaded 记录资源最近一次被下载的时间。
func (s *Store) MarkDownloaded(ctx context.Context, id int64, when time.Time) error {
	return s.execOne(ctx, `UPDATE assets SET last_downloaded = ? WHERE id = ?`, when.UnixNano(), id)
}

// SetCacheInfo 更新资源的新鲜度信息。
func (s *Store) SetCacheInfo(ctx context.Context, id int64, info CacheInfo) error {
	return s.execOne(ctx, `UPDATE assets SET last_verified = ?, expires_at = ? WHERE id = ?`,
		nullTime(info.LastVerified), nullTime(info.ExpiresAt), id)
}

// DeleteAsset 删除资源；若其组件不再有任何资源则一并删除组件，正文无引用时删除文件。
func (s *Store) DeleteAsset(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		repository string
		digest     string
		component  sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `SELECT repository, digest, component_id FROM assets WHERE id = ?`, id).
		Scan(&repository, &digest, &component)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id); err != nil {
		return err
	}
	if component.Valid {
		if err := deleteOrphanComponent(ctx, tx, component.Int64); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if digest != "" {
		return s.releaseBlob(ctx, repository, digest)
	}
	return nil
}

// ListComponents 返回仓库内的组件及其资源数量，按名称与版本排序。
func (s *Store) ListComponents(ctx context.Context, repository string) ([]ComponentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.name, c.version, c.attributes, COUNT(a.id)
		 FROM components c LEFT JOIN assets a ON a.component_id = c.id
		 WHERE c.repository = ?
		 GROUP BY c.id
		 ORDER BY c.name, c.version`, repository)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ComponentSummary
	for rows.Next() {
		var (
			item  ComponentSummary
			attrs string
		)
		if err := rows.Scan(&item.Name, &item.Version, &attrs, &item.Assets); err != nil {
			return nil, err
		}
		decoded, err := decodeAttributes(attrs)
		if err != nil {
			return nil, err
		}
		item.PluginName = decoded["pluginName"]
		result = append(result, item)
	}
	return result, rows.Err()
}

// RecordChildHosts 记录复合仓库展平时发现的子仓库主机（host[:port]），已存在的忽略。
func (s *Store) RecordChildHosts(ctx context.Context, repository string, hosts []string) error {
	if len(hosts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UnixNano()
	for _, host := range hosts {
		host = strings.ToLower(host)
		if host == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO child_hosts (repository, host, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (repository, host) DO NOTHING`,
			repository, host, now,
		); err != nil {
			return fmt.Errorf("record child host: %w", err)
		}
	}
	return tx.Commit()
}

// ChildHostKnown 判断 host 是否曾作为该仓库的子仓库主机出现。
func (s *Store) ChildHostKnown(ctx context.Context, repository, host string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM child_hosts WHERE repository = ? AND host = ?`, repository, strings.ToLower(host),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// releaseBlob 在没有资源引用该摘要时删除正文文件。
func (s *Store) releaseBlob(ctx context.Context, repository, digest string) error {
	var refs int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets WHERE repository = ? AND digest = ?`, repository, digest).Scan(&refs)
	if err != nil {
		return err
	}
	if refs > 0 {
		return nil
	}
	return s.blobs.Remove(ctx, cache.Locator{Repository: repository, Digest: digest})
}

func (s *Store) putBlob(ctx context.Context, repository string, tb *blob.TempBlob, meta BlobMeta) error {
	f, err := tb.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	locator := cache.Locator{Repository: repository, Digest: tb.Digest()}
	if _, err := s.blobs.Put(ctx, locator, f, cache.PutOptions{ModTime: meta.UpstreamModified}); err != nil {
		return fmt.Errorf("store blob: %w", err)
	}
	return nil
}

// querier 由 *sql.DB 与 *sql.Tx 共同实现。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertComponent 依赖唯一约束让并发创建收敛到同一条记录。
func upsertComponent(ctx context.Context, q querier, repository, name, version, encoded string, now time.Time) (*Component, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO components (repository, name, version, attributes, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (repository, name, version) DO NOTHING`,
		repository, name, version, encoded, now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert component: %w", err)
	}
	row := q.QueryRowContext(ctx,
		`SELECT id, repository, name, version, attributes, created_at
		 FROM components WHERE repository = ? AND name = ? AND version = ?`,
		repository, name, version,
	)
	return scanComponent(row)
}

// upsertAsset 创建或更新资源行，componentID 为 0 时保留原有关联。
// 被替换的旧组件若已无资源则删除。返回更新前的正文摘要。
func (s *Store) upsertAsset(ctx context.Context, tx *sql.Tx, repository, path string, componentID int64, kind, encoded string) (string, error) {
	var (
		previous       sql.NullInt64
		previousDigest string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT component_id, digest FROM assets WHERE repository = ? AND path = ?`, repository, path,
	).Scan(&previous, &previousDigest)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE assets SET kind = ?, attributes = ?, component_id = COALESCE(?, component_id)
			 WHERE repository = ? AND path = ?`,
			kind, encoded, nullID(componentID), repository, path,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assets (repository, path, component_id, kind, attributes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			repository, path, nullID(componentID), kind, encoded, s.now().UnixNano(),
		)
	}
	if err != nil {
		return "", fmt.Errorf("upsert asset: %w", err)
	}

	if previous.Valid && componentID != 0 && previous.Int64 != componentID {
		if err := deleteOrphanComponent(ctx, tx, previous.Int64); err != nil {
			return "", err
		}
	}
	return previousDigest, nil
}

func deleteOrphanComponent(ctx context.Context, tx *sql.Tx, componentID int64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM components WHERE id = ? AND NOT EXISTS (SELECT 1 FROM assets WHERE component_id = ?)`,
		componentID, componentID)
	return err
}

const selectAsset = `SELECT id, repository, path, component_id, kind, attributes, content_type, size, digest,
	upstream_etag, upstream_modified, last_downloaded, last_verified, expires_at, created_at FROM assets`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(row rowScanner) (*Component, error) {
	var (
		c       Component
		attrs   string
		created int64
	)
	err := row.Scan(&c.ID, &c.Repository, &c.Name, &c.Version, &attrs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, created)
	return &c, nil
}

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		a          Asset
		component  sql.NullInt64
		attrs      string
		modified   sql.NullInt64
		downloaded sql.NullInt64
		verified   sql.NullInt64
		expires    sql.NullInt64
		created    int64
	)
	err := row.Scan(&a.ID, &a.Repository, &a.Path, &component, &a.Kind, &attrs, &a.ContentType, &a.Size, &a.Digest,
		&a.UpstreamETag, &modified, &downloaded, &verified, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	a.ComponentID = component.Int64
	a.UpstreamModified = fromNullTime(modified)
	a.LastDownloaded = fromNullTime(downloaded)
	a.CacheInfo = CacheInfo{LastVerified: fromNullTime(verified), ExpiresAt: fromNullTime(expires)}
	a.CreatedAt = time.Unix(0, created)
	return &a, nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(data), nil
}

func decodeAttributes(raw string) (map[string]string, error) {
	out := map[string]string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return out, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64)
}
