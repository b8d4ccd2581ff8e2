// Package handler implements the per-task-type handlers dispatched by the
// polling worker: full_scrape, discover, ai_analysis.
package handler

import (
	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/queue"
)

// Submitter is the narrow slice of the AI batch pipeline the ai_analysis
// handler needs: check the submission trigger and, if due, submit the
// accumulated batch. Implemented by internal/batch.Pipeline.
type Submitter interface {
	MaybeSubmit(ctx domain.Context) error
}

// Deps bundles the ports and config every handler needs. Handlers are
// methods on Deps so they share one struct instead of threading five
// constructor arguments through internal/app's wiring.
type Deps struct {
	Blogs   domain.BlogRepository
	Queue   *queue.Queue
	Scraper domain.Scraper
	Storage domain.ObjectStorage
	Cfg     config.Config
	Batch   Submitter
}
