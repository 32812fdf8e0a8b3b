package ports

import "context"

type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}
