// Package events defines the structured failure events emitted by the crawl
// pipeline and the sinks that consume them.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockcrawler/internal/fetcher"
	"stockcrawler/internal/parser"
)

// Kind classifies a failure.
type Kind string

// Supported failure kinds.
const (
	KindNetwork              Kind = "network"
	KindTimeout              Kind = "timeout"
	KindStatus               Kind = "status"
	KindParse                Kind = "parse"
	KindDirectoryUnavailable Kind = "directory_unavailable"
	KindDirectoryMiss        Kind = "directory_miss"
)

// Event is one failure observed during a crawl.
type Event struct {
	Kind Kind
	// At is the UTC time the failure was observed.
	At time.Time
	// CrawlID ties the event to one crawl call.
	CrawlID uuid.UUID
	Symbol  string
	URL     string
	Err     error
}

// New stamps an event with the current UTC time.
func New(kind Kind, crawlID uuid.UUID, symbol, url string, err error) Event {
	return Event{
		Kind:    kind,
		At:      time.Now().UTC(),
		CrawlID: crawlID,
		Symbol:  symbol,
		URL:     url,
		Err:     err,
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.At.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindNetwork, KindTimeout, KindStatus, KindParse:
		if e.URL == "" {
			return fmt.Errorf("%s event requires url", e.Kind)
		}
	case KindDirectoryMiss:
		if e.Symbol == "" {
			return errors.New("directory miss requires symbol")
		}
	case KindDirectoryUnavailable:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

// KindOf maps an error from the fetcher or parser onto an event kind.
// Anything unrecognised is reported as a network failure.
func KindOf(err error) Kind {
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		return KindParse
	}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		switch {
		case fe.Type == fetcher.ErrorTypeTimeout:
			return KindTimeout
		case fe.IsStatus():
			return KindStatus
		}
	}
	return KindNetwork
}
