package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sge_scraper/internal/domain"
)

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// Upsert inserts or refreshes an article keyed by source_id. The bool result
// is true when the source_id was not present before the call.
func (s *ArticleStore) Upsert(ctx context.Context, article *domain.Article) (int64, bool, error) {
	ex := GetExecutor(ctx, s.db)

	var existingID int64
	err := sqlx.GetContext(ctx, ex, &existingID,
		"SELECT id FROM articles WHERE source_id = $1", article.SourceID)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, err
	}
	isNew := err == sql.ErrNoRows

	query := `
		INSERT INTO articles (
			source_id, slug, url, title, subtitle, content_html, content_text,
			category, author, author_email, featured_image, read_time,
			published_at, tags, raw_state
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (source_id) DO UPDATE SET
			slug = EXCLUDED.slug,
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			subtitle = EXCLUDED.subtitle,
			content_html = EXCLUDED.content_html,
			content_text = EXCLUDED.content_text,
			category = EXCLUDED.category,
			author = EXCLUDED.author,
			author_email = EXCLUDED.author_email,
			featured_image = EXCLUDED.featured_image,
			read_time = EXCLUDED.read_time,
			published_at = EXCLUDED.published_at,
			tags = EXCLUDED.tags,
			raw_state = EXCLUDED.raw_state,
			updated_at = NOW()
		RETURNING id`

	// lib/pq encodes []byte as bytea, which a jsonb column rejects.
	var rawState *string
	if len(article.RawState) > 0 {
		v := string(article.RawState)
		rawState = &v
	}

	var id int64
	err = ex.QueryRowxContext(ctx, query,
		article.SourceID,
		article.Slug,
		article.URL,
		article.Title,
		article.Subtitle,
		article.ContentHTML,
		article.ContentText,
		article.Category,
		article.Author,
		article.AuthorEmail,
		article.FeaturedImage,
		article.ReadTime,
		article.PublishedAt,
		pq.Array(article.Tags),
		rawState,
	).Scan(&id)
	if err != nil {
		return 0, false, err
	}

	return id, isNew, nil
}

// ReplaceSocialContents swaps the article's social items wholesale:
// delete everything, then insert the new set in position order.
func (s *ArticleStore) ReplaceSocialContents(ctx context.Context, articleID int64, items []domain.SocialContent) error {
	ex := GetExecutor(ctx, s.db)

	_, err := ex.ExecContext(ctx,
		"DELETE FROM social_contents WHERE article_id = $1",
		articleID,
	)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		return nil
	}

	const fields = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO social_contents
		(article_id, platform, content_type, url, embed_url, embed_html, username, caption, thumbnail_url, position) VALUES `)
	valueArgs := make([]interface{}, 0, len(items)*fields+1)
	valueArgs = append(valueArgs, articleID)

	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1")
		for j := 0; j < fields; j++ {
			sb.WriteString(", $")
			sb.WriteString(itoa(i*fields + j + 2))
		}
		sb.WriteString(")")
		valueArgs = append(valueArgs,
			string(item.Platform),
			item.ContentType,
			item.URL,
			item.EmbedURL,
			item.EmbedHTML,
			item.Username,
			item.Caption,
			item.ThumbnailURL,
			item.Position,
		)
	}

	_, err = ex.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

// ExistingSlugs returns the set of every stored article slug.
func (s *ArticleStore) ExistingSlugs(ctx context.Context) (map[string]struct{}, error) {
	ex := GetExecutor(ctx, s.db)

	rows, err := ex.QueryContext(ctx, "SELECT slug FROM articles")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]struct{})
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		result[slug] = struct{}{}
	}

	return result, rows.Err()
}

// GetSocialContents returns an article's social items in position order.
func (s *ArticleStore) GetSocialContents(ctx context.Context, articleID int64) ([]domain.SocialContent, error) {
	ex := GetExecutor(ctx, s.db)

	query := `
		SELECT platform, content_type, url, embed_url, embed_html, username, caption, thumbnail_url, position
		FROM social_contents
		WHERE article_id = $1
		ORDER BY position`

	rows, err := ex.QueryContext(ctx, query, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.SocialContent
	for rows.Next() {
		var item domain.SocialContent
		if err := rows.Scan(
			&item.Platform,
			&item.ContentType,
			&item.URL,
			&item.EmbedURL,
			&item.EmbedHTML,
			&item.Username,
			&item.Caption,
			&item.ThumbnailURL,
			&item.Position,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}
