// Package trigger defines the closed set of domain events a webhook can subscribe to.
//
// Each trigger type has exactly one registered Handler that knows which credential scope
// is required to subscribe to it and how to build a synthetic payload for test deliveries.
package trigger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknown is returned by Parse for names outside the catalog.
var ErrUnknown = errors.New("trigger: unknown trigger type")

// Type names a domain event.
type Type string

const (
	AnalysisCompleted Type = "analysis.completed"
	AnalysisFailed    Type = "analysis.failed"
	DocumentUploaded  Type = "document.uploaded"
	ReportGenerated   Type = "report.generated"
	CRMSynced         Type = "crm.synced"
)

func (t Type) String() string { return string(t) }

// Valid reports whether t is part of the catalog.
func (t Type) Valid() bool {
	_, ok := handlers[t]
	return ok
}

// Handler describes one trigger type.
type Handler interface {
	Type() Type
	// RequiredScope is the credential scope needed to subscribe.
	RequiredScope() string
	Describe() string
	// SamplePayload is sent by manual test deliveries.
	SamplePayload() map[string]any
}

var handlers = map[Type]Handler{}

func register(h Handler) {
	if _, dup := handlers[h.Type()]; dup {
		panic(fmt.Sprintf("trigger: duplicate handler for %q", h.Type()))
	}
	handlers[h.Type()] = h
}

func init() {
	register(analysisHandler{typ: AnalysisCompleted, status: "completed"})
	register(analysisHandler{typ: AnalysisFailed, status: "failed"})
	register(documentUploadedHandler{})
	register(reportGeneratedHandler{})
	register(crmSyncedHandler{})
}

// Parse normalizes and validates a trigger name.
func Parse(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknown, s)
	}
	return t, nil
}

// Lookup returns the handler registered for t.
func Lookup(t Type) (Handler, bool) {
	h, ok := handlers[t]
	return h, ok
}

// All returns every registered handler ordered by type name.
func All() []Handler {
	out := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}
