// Package sync is the synchronization engine: it polls the index changelog
// from the stored cursor, routes each entry to a handler, reconciles the
// affected releases against the warehouse, and advances the cursor.
package sync

import (
	"context"
	"regexp"

	"github.com/crateio/carrier/internal/pypi"
)

// Handler processes one changelog entry. match carries the dispatch
// pattern's submatches (index 0 is the full action text).
type Handler func(ctx context.Context, ch pypi.Change, match []string) error

type route struct {
	pattern *regexp.Regexp
	handler Handler
}

// Dispatcher routes changelog entries to handlers by action text. The
// table is evaluated in order; the first matching pattern wins.
type Dispatcher struct {
	routes []route
}

// NewDispatcher builds the action table over a Processor. The "docupdate"
// and "add/remove Owner|Maintainer" actions are deliberately absent: they
// fall through unmatched, no marker gets written, and a future handler can
// pick them up from history.
func NewDispatcher(p *Processor) *Dispatcher {
	return &Dispatcher{routes: []route{
		{regexp.MustCompile(`^create$`), p.Update},
		{regexp.MustCompile(`^new release$`), p.Update},
		{regexp.MustCompile(`^add [\w\d\.]+ file .+$`), p.Update},
		{regexp.MustCompile(`^remove$`), p.Delete},
		{regexp.MustCompile(`^remove file (.+)$`), p.Delete},
		{regexp.MustCompile(`^update [\w]+(, [\w]+)*$`), p.Update},
	}}
}

// Dispatch routes one entry. It reports whether any pattern matched and,
// if so, the handler's error.
func (d *Dispatcher) Dispatch(ctx context.Context, ch pypi.Change) (bool, error) {
	for _, r := range d.routes {
		if match := r.pattern.FindStringSubmatch(ch.Action); match != nil {
			return true, r.handler(ctx, ch, match)
		}
	}
	return false, nil
}
