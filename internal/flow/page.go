// Package flow walks a respondent through the survey pages, persisting every
// step in the local store and syncing opportunistically.
package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soaringjerry/Malasakit/internal/localstore"
	"github.com/soaringjerry/Malasakit/internal/record"
)

// Page is one step of the survey.
type Page string

const (
	Landing       Page = "landing"
	Quantitative  Page = "quantitative-questions"
	RateComments  Page = "rate-comments"
	Qualitative   Page = "qualitative-questions"
	PersonalInfo  Page = "personal-information"
	Review        Page = "submit"
	PeerResponses Page = "peer-responses"
	End           Page = "end"
)

// Pages is the fixed page order.
var Pages = []Page{Landing, Quantitative, RateComments, Qualitative, PersonalInfo, Review, PeerResponses, End}

func (p Page) index() int {
	for i, q := range Pages {
		if q == p {
			return i
		}
	}
	return -1
}

// ParsePage resolves a page name.
func ParsePage(name string) (Page, error) {
	p := Page(strings.TrimSpace(name))
	if p.index() < 0 {
		return "", &record.ValidationError{Field: "page", Value: name, Reason: "unknown page"}
	}
	return p, nil
}

// ErrPrecondition is matched by every PreconditionError.
var ErrPrecondition = errors.New("page precondition not met")

// PreconditionError reports a page that cannot be entered yet.
type PreconditionError struct {
	Page    Page
	Reason  string
	Missing []int64
}

func (e *PreconditionError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("cannot enter %s: %s %v", e.Page, e.Reason, e.Missing)
	}
	return fmt.Sprintf("cannot enter %s: %s", e.Page, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// Session is the context passed into every transition: the current record,
// the page being shown and the display language. After submission the record
// is read-only but the display language can still change.
type Session struct {
	Record   *record.Record
	Page     Page
	Language string
}

func (s *Session) persisted() localstore.Session {
	return localstore.Session{RecordID: s.Record.ID, Page: string(s.Page), Language: s.Language}
}
