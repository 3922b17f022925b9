package sequence

import (
	"context"
	"strings"
	"time"

	"transcriptdesk/internal/config"
)

// Generator turns a configured identifier format into display ids. The
// Daily and Region flags only change which tokens enter the scope.
type Generator struct {
	Counter Counter
	Now     func() time.Time
}

func (g Generator) Next(ctx context.Context, f config.IdentifierFormat) (string, error) {
	tokens := g.tokens(f)
	v, err := g.Counter.Next(ctx, Scope(f.Prefix, tokens...))
	if err != nil {
		return "", err
	}
	return Format(f.Prefix, strings.Join(tokens, Separator), v, f.Width), nil
}

// ScopeFor reports the counter scope the next id for f would draw from.
func (g Generator) ScopeFor(f config.IdentifierFormat) string {
	return Scope(f.Prefix, g.tokens(f)...)
}

func (g Generator) tokens(f config.IdentifierFormat) []string {
	var tokens []string
	if f.Region != "" {
		tokens = append(tokens, strings.ToUpper(f.Region))
	}
	if f.Daily {
		now := g.Now
		if now == nil {
			now = time.Now
		}
		tokens = append(tokens, DateToken(now()))
	}
	return tokens
}
