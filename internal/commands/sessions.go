package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/embeddings"
	"github.com/dotcommander/oakd/internal/llm"
	"github.com/dotcommander/oakd/internal/output"
	"github.com/dotcommander/oakd/internal/processor"
	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/internal/suggest"
	"github.com/dotcommander/oakd/internal/vector"
)

// NewSessionsCmd groups the operator-facing session-relationship actions
// that spec §4.6 describes but that have no hook-triggered or tool-call
// trigger of their own: compute_suggested_parent can't run inside
// session-start (its precondition needs a summary observation a session
// can't have yet) or any of the nine tool-call operations in spec §6.2, and
// dismiss/reset-dismissal are plain administrative actions on top of it.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Operator actions on session parent-link suggestions",
	}

	cmd.AddCommand(newSuggestParentCmd())
	cmd.AddCommand(newDismissSuggestionCmd())
	cmd.AddCommand(newResetSuggestionDismissalCmd())

	return cmd
}

func newSuggestParentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest-parent <session-id>",
		Short: "Suggest a likely parent session for the given session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]

			var suggestion *suggest.Suggestion
			err := withVectorStore(func(e *suggest.Engine) error {
				s, err := e.ComputeSuggestedParent(context.Background(), sessionID)
				if err != nil {
					return err
				}
				suggestion = s
				return nil
			})
			if err != nil {
				return err
			}
			return output.PrintSuccess(suggestion)
		},
	}
}

func newDismissSuggestionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss-suggestion <session-id>",
		Short: "Stop proposing parent-link suggestions for the given session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			if err := withDB(func(db *DB) error {
				return store.DismissSuggestion(db, sessionID)
			}); err != nil {
				return err
			}
			return output.PrintSuccess(map[string]string{"session_id": sessionID, "status": "dismissed"})
		},
	}
}

func newResetSuggestionDismissalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-suggestion-dismissal <session-id>",
		Short: "Allow parent-link suggestions for the given session again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			if err := withDB(func(db *DB) error {
				return store.ResetSuggestionDismissal(db, sessionID)
			}); err != nil {
				return err
			}
			return output.PrintSuccess(map[string]string{"session_id": sessionID, "status": "reset"})
		},
	}
}

// withVectorStore opens both the relational store and the vector store
// (suggest.Engine needs FindSimilarSessions against the latter) and runs fn
// against a freshly built Engine.
func withVectorStore(fn func(e *suggest.Engine) error) error {
	return withDB(func(db *DB) error {
		return withVectorStoreDB(db, fn)
	})
}

func withVectorStoreDB(db *DB, fn func(e *suggest.Engine) error) error {
	settings := app.EffectiveSettings()
	embedder := embeddings.NewOpenAIEmbedder(
		settings.EmbeddingBaseURL,
		os.Getenv(settings.EmbeddingAPIKeyEnv),
		settings.EmbeddingModel,
		embeddings.DimensionForModel(settings.EmbeddingModel),
	)
	vs, err := vector.New(settings.VectorStoreDir, embedder)
	if err != nil {
		return err
	}
	defer vs.Close()

	var backend processor.Backend
	if runner, err := llm.NewRunner(settings.LLMAgent); err == nil {
		backend = processor.NewCLIBackend(runner)
	}

	return fn(suggest.New(db, vs, backend))
}
