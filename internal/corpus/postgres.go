package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/resilience"
	"github.com/lib/pq"
)

// Schema creates the tables PostgresRepository reads and writes.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS corpus_sentences (
	    dataset     TEXT    NOT NULL,
	    doc_id      TEXT    NOT NULL,
	    sent_index  INTEGER NOT NULL,
	    tokens      TEXT[]  NOT NULL,
	    PRIMARY KEY (dataset, doc_id, sent_index)
	)`,
	`CREATE TABLE IF NOT EXISTS annotated_sentences (
	    dataset     TEXT        NOT NULL,
	    username    TEXT        NOT NULL,
	    sentence_id TEXT        NOT NULL,
	    spans       JSONB       NOT NULL,
	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	    PRIMARY KEY (dataset, username, sentence_id)
	)`,
	`CREATE TABLE IF NOT EXISTS annotated_terms (
	    dataset      TEXT   NOT NULL,
	    username     TEXT   NOT NULL,
	    term         TEXT   NOT NULL,
	    sentence_ids TEXT[] NOT NULL,
	    PRIMARY KEY (dataset, username, term)
	)`,
}

// PostgresRepository stores corpora and annotations in PostgreSQL.
type PostgresRepository struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresRepository(db *postgres.Client) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: slog.Default().With("component", "corpus-repository"),
	}
}

// Migrate creates the schema if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if err := r.db.Migrate(ctx, Schema...); err != nil {
		return fmt.Errorf("migrating corpus schema: %w", err)
	}
	return nil
}

// Import upserts documents into a dataset's corpus.
func (r *PostgresRepository) Import(ctx context.Context, dataset string, docs []Document) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO corpus_sentences (dataset, doc_id, sent_index, tokens)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (dataset, doc_id, sent_index) DO UPDATE SET tokens = EXCLUDED.tokens`)
		if err != nil {
			return fmt.Errorf("preparing import: %w", err)
		}
		defer stmt.Close()
		n := 0
		for _, d := range docs {
			for i, toks := range d.Sentences {
				if _, err := stmt.ExecContext(ctx, dataset, d.ID, i, pq.Array(toks)); err != nil {
					return fmt.Errorf("importing %s:%d: %w", d.ID, i, err)
				}
				n++
			}
		}
		r.logger.Info("corpus imported", "dataset", dataset, "documents", len(docs), "sentences", n)
		return nil
	})
}

func (r *PostgresRepository) LoadCorpus(ctx context.Context, dataset string) ([]*annotation.Sentence, error) {
	rows, err := r.db.DB.QueryContext(ctx, `
		SELECT doc_id, sent_index, tokens FROM corpus_sentences
		WHERE dataset = $1 ORDER BY doc_id, sent_index`, dataset)
	if err != nil {
		return nil, fmt.Errorf("querying corpus %s: %w", dataset, err)
	}
	defer rows.Close()

	var out []*annotation.Sentence
	for rows.Next() {
		var (
			docID  string
			index  int
			tokens []string
		)
		if err := rows.Scan(&docID, &index, pq.Array(&tokens)); err != nil {
			return nil, fmt.Errorf("scanning corpus row: %w", err)
		}
		out = append(out, annotation.NewSentence(annotation.NewSentenceID(docID, index), tokens))
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LoadAnnotations(ctx context.Context, dataset, username string) (Annotations, error) {
	out := NewAnnotations()

	rows, err := r.db.DB.QueryContext(ctx, `
		SELECT term, sentence_ids FROM annotated_terms
		WHERE dataset = $1 AND username = $2`, dataset, username)
	if err != nil {
		return out, fmt.Errorf("querying annotated terms: %w", err)
	}
	for rows.Next() {
		var (
			term string
			ids  []string
		)
		if err := rows.Scan(&term, pq.Array(&ids)); err != nil {
			rows.Close()
			return out, fmt.Errorf("scanning annotated term: %w", err)
		}
		set := make(annotation.SentenceSet, len(ids))
		for _, id := range ids {
			set.Add(annotation.SentenceID(id))
		}
		out.Index[annotation.Term(term)] = set
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	rows, err = r.db.DB.QueryContext(ctx, `
		SELECT sentence_id, spans FROM annotated_sentences
		WHERE dataset = $1 AND username = $2`, dataset, username)
	if err != nil {
		return out, fmt.Errorf("querying annotated sentences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return out, fmt.Errorf("scanning annotated sentence: %w", err)
		}
		var spans []annotation.Span
		if err := json.Unmarshal(data, &spans); err != nil {
			r.logger.Warn("skipping corrupt spans", "sentence_id", id, "error", err)
			continue
		}
		out.Spans[annotation.SentenceID(id)] = spans
	}
	return out, rows.Err()
}

// SaveAnnotations replaces the user's annotated-term index and upserts the
// spans of sents in one transaction. Sentences saved without spans have
// their stored row removed.
func (r *PostgresRepository) SaveAnnotations(ctx context.Context, dataset, username string, index annotation.TermIndex, sents []*annotation.Sentence) error {
	annotated, cleared := split(sents)
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM annotated_terms WHERE dataset = $1 AND username = $2`,
			dataset, username,
		); err != nil {
			return fmt.Errorf("clearing annotated terms: %w", err)
		}
		for _, term := range index.Terms() {
			ids := index[term].Sorted()
			raw := make([]string, len(ids))
			for i, id := range ids {
				raw[i] = string(id)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO annotated_terms (dataset, username, term, sentence_ids) VALUES ($1, $2, $3, $4)`,
				dataset, username, string(term), pq.Array(raw),
			); err != nil {
				return fmt.Errorf("saving term %q: %w", term, err)
			}
		}

		for _, s := range annotated {
			data, err := json.Marshal(s.Spans)
			if err != nil {
				return resilience.Permanent(fmt.Errorf("marshaling spans of %s: %w", s.ID, err))
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO annotated_sentences (dataset, username, sentence_id, spans, updated_at)
				VALUES ($1, $2, $3, $4, NOW())
				ON CONFLICT (dataset, username, sentence_id)
				DO UPDATE SET spans = EXCLUDED.spans, updated_at = NOW()`,
				dataset, username, string(s.ID), data,
			); err != nil {
				return fmt.Errorf("saving sentence %s: %w", s.ID, err)
			}
		}
		for _, s := range cleared {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM annotated_sentences WHERE dataset = $1 AND username = $2 AND sentence_id = $3`,
				dataset, username, string(s.ID),
			); err != nil {
				return fmt.Errorf("clearing sentence %s: %w", s.ID, err)
			}
		}

		r.logger.Info("annotations saved",
			"dataset", dataset,
			"username", username,
			"terms", len(index),
			"sentences", len(annotated),
			"cleared", len(cleared),
		)
		return nil
	})
}
