package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"tutor/types"
)

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "postgres"),
	}, nil
}

// Pool exposes the connection pool so the vector index can share it.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresStore) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS assistants (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		class_name TEXT NOT NULL,
		about TEXT NOT NULL DEFAULT '',
		profile_picture TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assistants_owner ON assistants(owner_id);

	CREATE TABLE IF NOT EXISTS assistant_users (
		assistant_id TEXT NOT NULL REFERENCES assistants(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (assistant_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_assistant_users_user ON assistant_users(user_id);

	CREATE TABLE IF NOT EXISTS contents (
		id TEXT PRIMARY KEY,
		assistant_id TEXT NOT NULL REFERENCES assistants(id) ON DELETE CASCADE,
		label TEXT NOT NULL CHECK (label IN ('own','supported')),
		position INT NOT NULL,
		media_kind TEXT NOT NULL,
		format TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		topics TEXT[] NOT NULL DEFAULT '{}',
		keywords TEXT[] NOT NULL DEFAULT '{}',
		short_summary TEXT NOT NULL,
		long_summary TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contents_assistant ON contents(assistant_id, label, position);

	CREATE TABLE IF NOT EXISTS digests (
		content_id TEXT NOT NULL REFERENCES contents(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		position INT NOT NULL,
		content TEXT NOT NULL,
		title TEXT NOT NULL,
		topics TEXT[] NOT NULL DEFAULT '{}',
		keywords TEXT[] NOT NULL DEFAULT '{}',
		short_summary TEXT NOT NULL,
		long_summary TEXT NOT NULL,
		questions TEXT[] NOT NULL DEFAULT '{}',
		PRIMARY KEY (content_id, id)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		assistant_id TEXT NOT NULL REFERENCES assistants(id) ON DELETE CASCADE,
		summary TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, assistant_id);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq INT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('user','assistant')),
		payload JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	);
	`
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createTables(ctx)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}

const assistantColumns = `id, owner_id, subject, class_name, about, profile_picture, created_at, updated_at`

func scanAssistant(row pgx.Row) (*types.Assistant, error) {
	a := &types.Assistant{}
	err := row.Scan(&a.ID, &a.OwnerID, &a.Subject, &a.ClassName, &a.About, &a.ProfilePicture, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (p *PostgresStore) CreateAssistant(ctx context.Context, a *types.Assistant) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := types.CheckID(a.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO assistants (`+assistantColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.OwnerID, a.Subject, a.ClassName, a.About, a.ProfilePicture, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert assistant: %w", err)
	}
	for _, u := range a.AllowedUsers {
		if _, err := tx.Exec(ctx, `INSERT INTO assistant_users (assistant_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, a.ID, u); err != nil {
			return fmt.Errorf("insert assistant user: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetAssistant(ctx context.Context, id string) (*types.Assistant, error) {
	a, err := scanAssistant(p.pool.QueryRow(ctx, `SELECT `+assistantColumns+` FROM assistants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NotFound("assistant", id)
	}
	if err != nil {
		return nil, err
	}

	if a.AllowedUsers, err = p.allowedUsers(ctx, id); err != nil {
		return nil, err
	}
	if err := p.loadContent(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresStore) allowedUsers(ctx context.Context, assistantID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id FROM assistant_users WHERE assistant_id = $1 ORDER BY user_id`, assistantID)
	if err != nil {
		return nil, err
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (p *PostgresStore) loadContent(ctx context.Context, a *types.Assistant) error {
	rows, err := p.pool.Query(ctx, `
		SELECT id, label, media_kind, format, content, source, title, topics, keywords,
		       short_summary, long_summary, created_at
		FROM contents WHERE assistant_id = $1
		ORDER BY label, position`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var contents []types.Content
	index := make(map[string]int)
	for rows.Next() {
		var c types.Content
		if err := rows.Scan(&c.ID, &c.Label, &c.MediaKind, &c.Format, &c.Text, &c.Source, &c.Title,
			&c.Topics, &c.Keywords, &c.ShortSummary, &c.LongSummary, &c.CreatedAt); err != nil {
			return err
		}
		index[c.ID] = len(contents)
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	drows, err := p.pool.Query(ctx, `
		SELECT d.content_id, d.id, d.content, d.title, d.topics, d.keywords,
		       d.short_summary, d.long_summary, d.questions
		FROM digests d JOIN contents c ON c.id = d.content_id
		WHERE c.assistant_id = $1
		ORDER BY d.content_id, d.position`, a.ID)
	if err != nil {
		return err
	}
	defer drows.Close()

	for drows.Next() {
		var contentID string
		var d types.Digest
		if err := drows.Scan(&contentID, &d.ID, &d.Text, &d.Title, &d.Topics, &d.Keywords,
			&d.ShortSummary, &d.LongSummary, &d.Questions); err != nil {
			return err
		}
		if i, ok := index[contentID]; ok {
			contents[i].Digests = append(contents[i].Digests, d)
		}
	}
	if err := drows.Err(); err != nil {
		return err
	}

	for _, c := range contents {
		if c.Label == types.LabelOwn {
			a.OwnContent = append(a.OwnContent, c)
		} else {
			a.SupportingContent = append(a.SupportingContent, c)
		}
	}
	return nil
}

func (p *PostgresStore) ListAssistantsByOwner(ctx context.Context, ownerID string) ([]types.Assistant, error) {
	return p.listAssistants(ctx, `SELECT `+assistantColumns+` FROM assistants WHERE owner_id = $1 ORDER BY created_at`, ownerID)
}

func (p *PostgresStore) ListAssistantsForUser(ctx context.Context, userID string) ([]types.Assistant, error) {
	return p.listAssistants(ctx, `
		SELECT a.id, a.owner_id, a.subject, a.class_name, a.about, a.profile_picture, a.created_at, a.updated_at
		FROM assistants a JOIN assistant_users u ON u.assistant_id = a.id
		WHERE u.user_id = $1 ORDER BY a.created_at`, userID)
}

func (p *PostgresStore) listAssistants(ctx context.Context, query string, arg string) ([]types.Assistant, error) {
	rows, err := p.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Assistant{}
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].AllowedUsers, err = p.allowedUsers(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *PostgresStore) UpdateAssistant(ctx context.Context, id string, set map[string]any) (*types.Assistant, error) {
	if err := checkUpdate(set); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assignments := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for i, k := range keys {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, set[k])
	}
	assignments = append(assignments, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf(`UPDATE assistants SET %s WHERE id = $%d`, strings.Join(assignments, ", "), len(args))
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, types.NotFound("assistant", id)
	}
	return p.GetAssistant(ctx, id)
}

func (p *PostgresStore) AddUser(ctx context.Context, assistantID, userID string) error {
	if err := p.assistantExists(ctx, assistantID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO assistant_users (assistant_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, assistantID, userID)
	return err
}

func (p *PostgresStore) RemoveUser(ctx context.Context, assistantID, userID string) error {
	if err := p.assistantExists(ctx, assistantID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM assistant_users WHERE assistant_id = $1 AND user_id = $2`, assistantID, userID)
	return err
}

func (p *PostgresStore) assistantExists(ctx context.Context, id string) error {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assistants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return types.NotFound("assistant", id)
	}
	return nil
}

// AppendContent writes the content and its digests in one transaction.
func (p *PostgresStore) AppendContent(ctx context.Context, assistantID string, c *types.Content) error {
	if err := checkContent(assistantID, c); err != nil {
		return err
	}
	if err := p.assistantExists(ctx, assistantID); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO contents (id, assistant_id, label, position, media_kind, format, content, source, title,
		                      topics, keywords, short_summary, long_summary, created_at)
		VALUES ($1, $2, $3,
		        (SELECT COALESCE(MAX(position) + 1, 0) FROM contents WHERE assistant_id = $2 AND label = $3),
		        $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, assistantID, c.Label, c.MediaKind, c.Format, c.Text, c.Source, c.Title,
		nonNil(c.Topics), nonNil(c.Keywords), c.ShortSummary, c.LongSummary, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}

	batch := &pgx.Batch{}
	for i, d := range c.Digests {
		batch.Queue(`
			INSERT INTO digests (content_id, id, position, content, title, topics, keywords,
			                     short_summary, long_summary, questions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, d.ID, i, d.Text, d.Title, nonNil(d.Topics), nonNil(d.Keywords),
			d.ShortSummary, d.LongSummary, nonNil(d.Questions))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert digests: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE assistants SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), assistantID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveConversation inserts a new conversation or updates an existing one.
// Stored messages are never rewritten; only new sequence numbers are inserted.
func (p *PostgresStore) SaveConversation(ctx context.Context, c *types.Conversation) error {
	now := time.Now().UTC()
	isNew := c.IsNew()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, createdAt := c.ID, c.CreatedAt
	if isNew {
		id, createdAt = uuid.NewString(), now
		_, err = tx.Exec(ctx, `
			INSERT INTO conversations (id, user_id, assistant_id, summary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, id, c.UserID, c.AssistantID, c.Summary, createdAt, now)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
	} else {
		tag, err := tx.Exec(ctx, `UPDATE conversations SET summary = $1, updated_at = $2 WHERE id = $3`, c.Summary, now, id)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", types.ErrConversationNotFound, id)
		}
	}

	batch := &pgx.Batch{}
	for seq, m := range c.Messages {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message %d: %w", seq, err)
		}
		batch.Queue(`
			INSERT INTO messages (conversation_id, seq, kind, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (conversation_id, seq) DO NOTHING`, id, seq, m.Kind, payload, m.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	c.ID, c.CreatedAt, c.UpdatedAt = id, createdAt, now
	return nil
}

func (p *PostgresStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	c := &types.Conversation{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, assistant_id, summary, created_at, updated_at
		FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.UserID, &c.AssistantID, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `SELECT payload FROM messages WHERE conversation_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m types.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	return c, rows.Err()
}

func (p *PostgresStore) ListConversations(ctx context.Context, userID, assistantID string) ([]types.Conversation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, assistant_id, summary, created_at, updated_at
		FROM conversations
		WHERE user_id = $1 AND ($2::text = '' OR assistant_id = $2::text)
		ORDER BY updated_at DESC`, userID, assistantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Conversation{}
	for rows.Next() {
		var c types.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.AssistantID, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// PgVectorIndex is an EmbeddingIndex on pgvector sharing the store's pool.
type PgVectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPgVectorIndex(pool *pgxpool.Pool, dimension int) *PgVectorIndex {
	return &PgVectorIndex{pool: pool, dimension: dimension}
}

func (x *PgVectorIndex) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS index_entries (
		key TEXT PRIMARY KEY,
		assistant_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		digest_id TEXT NOT NULL,
		facet TEXT NOT NULL CHECK (facet IN ('text','title','topics','keywords')),
		label TEXT NOT NULL CHECK (label IN ('own','supported')),
		embedding vector(%d) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_index_entries_embedding ON index_entries USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);

	CREATE INDEX IF NOT EXISTS idx_index_entries_scope ON index_entries(assistant_id, label, facet);
	`, x.dimension)
	_, err := x.pool.Exec(ctx, query)
	return err
}

func (x *PgVectorIndex) Upsert(ctx context.Context, key types.IndexKey, vector []float32) error {
	id, err := key.Encode()
	if err != nil {
		return err
	}
	if len(vector) != x.dimension {
		return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vector), x.dimension)
	}
	_, err = x.pool.Exec(ctx, `
		INSERT INTO index_entries (key, assistant_id, content_id, digest_id, facet, label, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET embedding = EXCLUDED.embedding`,
		id, key.AssistantID, key.ContentID, key.DigestID, key.Facet, key.Label, pgvector.NewVector(vector))
	if err != nil {
		return types.Remote("vector index", err)
	}
	return nil
}

func (x *PgVectorIndex) Query(ctx context.Context, filter types.IndexFilter, vector []float32, topK int) ([]types.IndexMatch, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := x.pool.Query(ctx, `
		SELECT key, 1 - (embedding <=> $1) AS score
		FROM index_entries
		WHERE assistant_id = $2 AND label = $3 AND ($4::text = '' OR facet = $4::text)
		ORDER BY embedding <=> $1
		LIMIT $5`,
		pgvector.NewVector(vector), filter.AssistantID, filter.Label, filter.Facet, topK)
	if err != nil {
		return nil, types.Remote("vector index", err)
	}
	defer rows.Close()

	var matches []types.IndexMatch
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		key, err := types.ParseIndexKey(id)
		if err != nil {
			return nil, err
		}
		matches = append(matches, types.IndexMatch{Key: key, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, types.Remote("vector index", err)
	}
	return matches, nil
}
