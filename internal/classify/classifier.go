// Package classify wraps the external LLM classification call: one item in,
// one category key out, with retry/backoff on transient failures and a
// fallback category when the classifier cannot be trusted or reached.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"git.home.luguber.info/inful/shopsync/internal/logfields"
	"git.home.luguber.info/inful/shopsync/internal/retry"
	"git.home.luguber.info/inful/shopsync/internal/synerr"
	"git.home.luguber.info/inful/shopsync/internal/taxonomy"
)

// Result is a classification outcome. Degraded means the fallback category
// was used because the classifier failed or returned an unknown label; it is
// reported in-band so the cycle can log it without aborting.
type Result struct {
	Category taxonomy.Category
	Degraded bool
	Reason   string // why the result is degraded, empty otherwise
}

// completer is the single LLM operation the adapter needs. Swapped out in
// tests.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// Classifier assigns taxonomy categories to item text.
type Classifier struct {
	llm    completer
	tx     *taxonomy.Taxonomy
	policy retry.Policy
	system string
}

// New builds a classifier over the Anthropic Messages API.
func New(apiKey, model string, tx *taxonomy.Taxonomy, policy retry.Policy) *Classifier {
	llm := &anthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
	return newWith(llm, tx, policy)
}

func newWith(llm completer, tx *taxonomy.Taxonomy, policy retry.Policy) *Classifier {
	return &Classifier{
		llm:    llm,
		tx:     tx,
		policy: policy,
		system: buildSystemPrompt(tx),
	}
}

func buildSystemPrompt(tx *taxonomy.Taxonomy) string {
	return fmt.Sprintf(`You sort shopping list items into supermarket aisle categories.

Categories (use these keys ONLY):
%s
Reply with exactly one category key from the list above and nothing else.
If the item fits no category, reply with %q.`, tx.PromptList(), taxonomy.FallbackKey)
}

// Classify returns the category for one item. Transient failures are retried
// per the policy; exhaustion and unrecognized labels degrade to the fallback
// category instead of failing the cycle. Auth and request errors are
// returned as-is: they are fatal for the cycle and must not burn quota.
func (c *Classifier) Classify(ctx context.Context, itemText string) (Result, error) {
	text := strings.TrimSpace(itemText)
	if text == "" {
		return Result{}, synerr.New(synerr.KindClassifierRequest, "item text is empty")
	}

	var label string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var cerr error
		label, cerr = c.llm.complete(ctx, c.system, text)
		return cerr
	})
	if err != nil {
		if synerr.KindOf(err) == synerr.KindTransient {
			slog.Warn("Classification degraded after retries", logfields.Error(err))
			return Result{
				Category: c.tx.Fallback(),
				Degraded: true,
				Reason:   fmt.Sprintf("retries exhausted: %v", err),
			}, nil
		}
		return Result{}, err
	}

	cat, ok := c.tx.Resolve(label)
	if !ok {
		// Never trust external output blindly.
		slog.Warn("Classifier returned unknown label, using fallback",
			slog.String("label", label))
		return Result{
			Category: c.tx.Fallback(),
			Degraded: true,
			Reason:   fmt.Sprintf("unrecognized label %q", label),
		}, nil
	}
	return Result{Category: cat}, nil
}

// anthropicLLM is the production completer.
type anthropicLLM struct {
	client anthropic.Client
	model  anthropic.Model
}

func (a *anthropicLLM) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 32,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", normalizeAPIError(err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", synerr.New(synerr.KindTransient, "classifier response contained no text block")
}

func normalizeAPIError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return synerr.Wrap(synerr.KindClassifierAuth, "classifier rejected credentials", err)
		case apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500:
			return synerr.Wrap(synerr.KindTransient, "classifier unavailable", err)
		default:
			return synerr.Wrap(synerr.KindClassifierRequest, "classifier rejected request", err)
		}
	}
	// Timeouts and connection errors arrive unclassified.
	return synerr.Wrap(synerr.KindTransient, "classifier call failed", err)
}
