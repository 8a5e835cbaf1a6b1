package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"repo-rag/internal/chromemdb"
	"repo-rag/internal/chunker"
	"repo-rag/internal/config"
	"repo-rag/internal/db"
	"repo-rag/internal/embedding"
	"repo-rag/internal/guardrails"
	"repo-rag/internal/helper"
	"repo-rag/internal/indexer"
	"repo-rag/internal/llmservice"
	"repo-rag/internal/models"
	"repo-rag/internal/observability"
	"repo-rag/internal/rag"
	"repo-rag/internal/retrieval"
	"repo-rag/internal/vcs"
)

// store is the full storage gateway surface used by the commands.
type store interface {
	indexer.Writer
	retrieval.Searcher
	Stats(ctx context.Context) (models.StoreStats, error)
	DeleteRepo(ctx context.Context, repository string) (int, error)
}

type backend struct {
	store
	// persist flushes writes for backends that need it.
	persist func(ctx context.Context) error
	close   func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Database.Backend {
	case config.BackendChromem:
		s, err := chromemdb.NewStore(cfg.Database.ChromemCollection, cfg.Database.ChromemExportPath, cfg.Database.ChromemEncryptionKey)
		if err != nil {
			return nil, err
		}
		if err := s.Load(ctx, cfg.EmbedLLM.Dimension); err != nil {
			return nil, err
		}
		persist := func(context.Context) error {
			log.Warn().Msg("chromem export path or encryption key not set, index is not persisted")
			return nil
		}
		if cfg.Database.ChromemExportPath != "" && cfg.Database.ChromemEncryptionKey != "" {
			persist = s.Export
		}
		return &backend{store: s, persist: persist, close: func() error { return nil }}, nil
	default:
		s, err := db.Open(ctx, cfg.Database, cfg.EmbedLLM.Dimension)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, persist: func(context.Context) error { return nil }, close: s.Close}, nil
	}
}

func newRetriever(cfg *config.Config, s retrieval.Searcher) (*retrieval.HybridRetriever, error) {
	embedder, err := embedding.NewFromConfig(cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	return retrieval.NewHybridRetriever(embedder, s,
		retrieval.WithRRFConstant(cfg.Retrieval.RRFConstant),
		retrieval.WithSimilarityThreshold(cfg.Retrieval.SimilarityThreshold),
	), nil
}

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Sync and index every configured repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()

			tok, err := chunker.NewTiktoken(cfg.Chunking.Encoding)
			if err != nil {
				return err
			}
			ch, err := chunker.New(tok, cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
			if err != nil {
				return err
			}
			embedder, err := embedding.NewFromConfig(cfg.EmbedLLM)
			if err != nil {
				return err
			}
			syncer, err := vcs.NewSyncerFromConfig(ctx, cfg.GitHub)
			if err != nil {
				return err
			}

			collector := observability.NewCollector(cfg.Metrics.Capacity)
			ix := indexer.New(syncer, ch, embedder, b,
				indexer.WithWorkers(cfg.GitHub.Workers),
				indexer.WithMetrics(collector),
			)

			results, indexErr := ix.IndexAll(ctx, cfg.GitHub.Repos)
			if err := b.persist(ctx); err != nil {
				return err
			}

			fmt.Println("Indexing summary:")
			for _, m := range results {
				status := "ok"
				if len(m.Errors) > 0 {
					status = fmt.Sprintf("%d errors", len(m.Errors))
				}
				fmt.Printf("  %s: %d files, %d skipped, %d chunks in %s (%s)\n",
					m.Repo, m.FilesProcessed, m.FilesSkipped, m.ChunksCreated, m.Duration().Round(time.Millisecond), status)
			}
			helper.PrettyPrint(collector.Summary())
			return indexErr
		},
	}
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		req    rag.Request
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the indexed repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			req.Question = strings.Join(args, " ")

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()

			retriever, err := newRetriever(cfg, b)
			if err != nil {
				return err
			}
			model, err := llmservice.NewModel(cfg.InferLLM)
			if err != nil {
				return err
			}
			engine := rag.NewEngine(model, retriever, cfg.InferLLM, cfg.Retrieval,
				rag.WithMetrics(observability.NewCollector(cfg.Metrics.Capacity)),
				rag.WithInputValidator(guardrails.NewInputValidator(cfg.Guardrails.MinQueryLength, cfg.Guardrails.MaxQueryLength)),
				rag.WithResponseValidator(guardrails.NewResponseValidator(
					guardrails.WithMaxStalenessDays(cfg.Guardrails.MaxStalenessDays),
					guardrails.WithMinResponseChars(cfg.Guardrails.MinResponseChars),
				)),
			)

			answer, err := engine.Query(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				helper.PrettyPrint(answer)
				return nil
			}
			printAnswer(answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Repository, "repo", "", "restrict to one repository (owner/name)")
	cmd.Flags().StringVar(&req.FileType, "file-type", "", "restrict to one file type (markdown, python, ...)")
	cmd.Flags().IntVar(&req.TopK, "top-k", 0, "number of chunks to retrieve (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")
	return cmd
}

func printAnswer(answer *rag.Answer) {
	fmt.Println(answer.Response)
	fmt.Println()
	if len(answer.Citations) > 0 {
		fmt.Println("Citations:")
		for _, c := range answer.Citations {
			fmt.Println("  -", c)
		}
	}
	fmt.Printf("Valid: %t\n", answer.Validation.IsValid)
	for _, e := range answer.Validation.Errors {
		fmt.Println("  error:", e)
	}
	if m := answer.Metrics; m != nil {
		fmt.Printf("Latency: %dms, chunks: %d, tokens: %d, cost: $%.4f\n",
			m.Duration().Milliseconds(), m.ChunksRetrieved, m.TokensUsed, m.CostUSD)
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show storage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer b.close()

			stats, err := b.Stats(cmd.Context())
			if err != nil {
				return err
			}
			helper.PrettyPrint(stats)
			return nil
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <owner/name>",
		Short: "Delete every stored chunk of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer b.close()

			n, err := b.DeleteRepo(ctx, args[0])
			if err != nil {
				return err
			}
			if err := b.persist(ctx); err != nil {
				return err
			}
			log.Info().Str("repo", args[0]).Int("chunks", n).Msg("Purged repository")
			fmt.Printf("Deleted %d chunks from %s\n", n, args[0])
			return nil
		},
	}
}
