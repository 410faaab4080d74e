// Package assignment resolves the set of group CIDs an identity is
// permitted to submit against, degrading gracefully to "no filtering"
// when the assignment service is unreachable or doesn't support the
// query.
package assignment

import (
	"context"

	"github.com/elephant-xyz/submit-files/internal/logger"
)

// Source fetches the group CIDs assigned to identity. Implementations
// reach an external assignment-filtering sidecar; none is specified
// here beyond this interface.
type Source interface {
	AssignedGroupCIDs(ctx context.Context, identity string) ([]string, error)
}

// Filter wraps a Source with the engine's degraded-mode policy.
type Filter struct {
	source Source
	log    logger.Logger
}

// New returns a Filter backed by source, logging degraded-mode warnings
// through log.
func New(source Source, log logger.Logger) *Filter {
	return &Filter{source: source, log: log}
}

// AssignedGroupCIDs returns the identity's assigned group-CID set. An
// empty, non-nil map means "no filtering applied" (degraded mode): the
// source failed, returned nothing, or is unsupported.
func (f *Filter) AssignedGroupCIDs(ctx context.Context, identity string) map[string]struct{} {
	out := make(map[string]struct{})
	if f.source == nil {
		if f.log != nil {
			f.log.LogWarn("no assignment source configured, proceeding without filtering")
		}
		return out
	}

	cids, err := f.source.AssignedGroupCIDs(ctx, identity)
	if err != nil {
		if f.log != nil {
			f.log.LogWarn("assignment filter unavailable, proceeding without filtering: " + err.Error())
		}
		return out
	}
	for _, c := range cids {
		out[c] = struct{}{}
	}
	return out
}
