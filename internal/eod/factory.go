package eod

import "futures-bot/internal/interfaces"

// NewSummarizer returns a Summarizer as the interface the scheduler consumes.
func NewSummarizer(repo interfaces.Repository, dir string) interfaces.EodSummarizer {
	return New(repo, dir)
}
