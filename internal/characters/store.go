package characters

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"
	_ "modernc.org/sqlite"

	"golang.org/x/text/cases"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/utils"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS characters (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    name_key       TEXT NOT NULL UNIQUE,
    description    TEXT NOT NULL DEFAULT '',
    type           TEXT NOT NULL DEFAULT '',
    model_provider TEXT NOT NULL DEFAULT '',
    content_hash   TEXT NOT NULL DEFAULT '',
    pinned_url     TEXT NOT NULL DEFAULT '',
    snapshot_path  TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_characters_created ON characters(created_at);
`

// timeLayout is fixed width so index timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Options struct {
	Dir       string        // snapshot directory
	IndexPath string        // SQLite index database
	CacheTTL  time.Duration // 0 disables expiry
	Pinner    Pinner        // optional
}

// Store owns profile snapshots and the character index.
type Store struct {
	dir    string
	db     *sql.DB
	pinner Pinner
	cache  *cache.Cache

	mu      sync.Mutex // serialises writes and ULID generation
	entropy io.Reader
}

func NewStore(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create character dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.IndexPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", opts.IndexPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open character index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate character index: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	return &Store{
		dir:     opts.Dir,
		db:      db,
		pinner:  opts.Pinner,
		cache:   cache.New(ttl, 10*time.Minute),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// nameKey is the Unicode case fold of name. Uniqueness, lookup and delete
// all compare on it. A Caser holds state, so one is built per call.
func nameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// stem is the snapshot file prefix for name.
func stem(name string) string {
	return utils.SanitizeName(nameKey(name))
}

// Save writes a new snapshot of p and upserts its index row. ID and
// CreatedAt are assigned on first save. Pinning is best effort.
func (s *Store) Save(ctx context.Context, p *Profile) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, p)
}

// Create saves p only when no character with the same name (ignoring case)
// exists yet.
func (s *Store) Create(ctx context.Context, p *Profile) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.exists(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict(fmt.Sprintf("Character %q already exists", p.Name))
	}
	return s.save(ctx, p)
}

func (s *Store) save(ctx context.Context, p *Profile) (*Profile, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, apperr.Validation("Character name is required")
	}

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Type == "" {
		p.Type = TypeCharacter
	}

	hash, err := contentHash(p)
	if err != nil {
		return nil, apperr.Storage("failed to hash character", err)
	}
	p.ContentHash = hash

	id := ulid.MustNew(ulid.Timestamp(now), s.entropy)
	filename := fmt.Sprintf("%s_%s.json", stem(p.Name), id)

	if s.pinner != nil {
		doc, err := json.Marshal(p)
		if err != nil {
			return nil, apperr.Storage("failed to encode character", err)
		}
		url, err := s.pinner.Pin(ctx, filename, doc)
		if err != nil {
			slog.Warn("Character pinning failed, keeping local snapshot only", "character", p.Name, "error", err)
			p.PinnedURL = ""
		} else {
			p.PinnedURL = url
		}
	}

	doc, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, apperr.Storage("failed to encode character", err)
	}
	snapshotPath := filepath.Join(s.dir, filename)
	if err := writeFileAtomic(snapshotPath, doc); err != nil {
		return nil, apperr.Storage("failed to write character snapshot", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO characters (id, name, name_key, description, type, model_provider, content_hash, pinned_url, snapshot_path, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(name_key) DO UPDATE SET
            description = excluded.description,
            type = excluded.type,
            model_provider = excluded.model_provider,
            content_hash = excluded.content_hash,
            pinned_url = excluded.pinned_url,
            snapshot_path = excluded.snapshot_path,
            updated_at = excluded.updated_at`,
		p.ID, p.Name, nameKey(p.Name), p.Description, p.Type, p.ModelProvider, p.ContentHash, p.PinnedURL, snapshotPath,
		p.CreatedAt.Format(timeLayout), p.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, apperr.Storage("failed to index character", err)
	}

	s.cache.Delete(nameKey(p.Name))
	slog.Info("Character saved", "character", p.Name, "snapshot", filename, "hash", p.ContentHash)
	return p, nil
}

// contentHash is the SHA-256 of the profile without its storage metadata.
func contentHash(p *Profile) (string, error) {
	c := *p
	c.ContentHash = ""
	c.PinnedURL = ""
	c.UpdatedAt = time.Time{}
	data, err := json.Marshal(&c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM characters WHERE name_key = ?", nameKey(name)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("failed to query character index", err)
	}
	return true, nil
}

// snapshots returns the snapshot files whose stem belongs to name, newest
// first.
func (s *Store) snapshots(name string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	prefix := stem(name) + "_"
	var files []string
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasPrefix(fn, prefix) || !strings.HasSuffix(fn, ".json") {
			continue
		}
		// Only "<stem>_<ULID>.json"; this keeps "nova" from matching "nova_prime_...".
		if _, err := ulid.ParseStrict(strings.TrimSuffix(strings.TrimPrefix(fn, prefix), ".json")); err != nil {
			continue
		}
		files = append(files, fn)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// LoadByName returns the newest snapshot whose name equals name under
// Unicode case folding.
func (s *Store) LoadByName(ctx context.Context, name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.CharacterNotFound(name)
	}

	key := nameKey(name)
	if cached, ok := s.cache.Get(key); ok {
		if doc, ok := cached.([]byte); ok {
			var p Profile
			if err := json.Unmarshal(doc, &p); err == nil {
				return &p, nil
			}
		}
	}

	files, err := s.snapshots(name)
	if err != nil {
		return nil, apperr.Storage("failed to list character snapshots", err)
	}
	for _, fn := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := os.ReadFile(filepath.Join(s.dir, fn))
		if err != nil {
			return nil, apperr.Storage("failed to read character snapshot", err)
		}
		var p Profile
		if err := json.Unmarshal(doc, &p); err != nil {
			slog.Warn("Skipping unreadable character snapshot", "file", fn, "error", err)
			continue
		}
		if nameKey(p.Name) == key {
			s.cache.Set(key, doc, cache.DefaultExpiration)
			return &p, nil
		}
	}
	return nil, apperr.CharacterNotFound(name)
}

// List returns every indexed character, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, description, type, model_provider, pinned_url, created_at, updated_at
        FROM characters
        ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, apperr.Storage("failed to list characters", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		var createdAt, updatedAt string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Description, &sum.Type, &sum.ModelProvider, &sum.PinnedURL, &createdAt, &updatedAt); err != nil {
			return nil, apperr.Storage("failed to scan character row", err)
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		sum.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("failed to read characters", err)
	}
	return summaries, nil
}

// Update applies upd to the stored profile and saves the result as a new
// snapshot. The previous profile is returned alongside the updated one.
func (s *Store) Update(ctx context.Context, name string, upd *ProfileUpdate) (before, after *Profile, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.LoadByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	before = current
	next, err := s.LoadByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	upd.Apply(next)

	after, err = s.save(ctx, next)
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// Delete removes every snapshot of the character and its index row. Pinned
// copies are left in place.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	exists, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.CharacterNotFound(name)
	}

	key := nameKey(name)
	files, err := s.snapshots(name)
	if err != nil {
		return apperr.Storage("failed to list character snapshots", err)
	}
	for _, fn := range files {
		path := filepath.Join(s.dir, fn)
		doc, err := os.ReadFile(path)
		if err != nil {
			return apperr.Storage("failed to read character snapshot", err)
		}
		var p Profile
		if err := json.Unmarshal(doc, &p); err != nil || nameKey(p.Name) != key {
			continue
		}
		if err := os.Remove(path); err != nil {
			return apperr.Storage("failed to remove character snapshot", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM characters WHERE name_key = ?", key); err != nil {
		return apperr.Storage("failed to delete character index row", err)
	}
	s.cache.Delete(key)
	slog.Info("Character deleted", "character", name)
	return nil
}
