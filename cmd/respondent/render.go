package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soaringjerry/Malasakit/internal/flow"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

// render prints a page as plain text.
func render(w io.Writer, v *flow.View) {
	fmt.Fprintf(w, "== %s ==\n", v.Title)
	for _, warn := range v.Warnings {
		fmt.Fprintf(w, "! %s\n", warn)
	}

	switch v.Page {
	case flow.Quantitative:
		for _, q := range v.Questions {
			fmt.Fprintf(w, "[%d] %s\n", q.ID, q.Prompt)
			if q.Left != "" || q.Right != "" {
				fmt.Fprintf(w, "     0 = %s, 9 = %s\n", q.Left, q.Right)
			}
			fmt.Fprintf(w, "     %s\n", ratingText(v.Language, q.Rating))
		}
	case flow.RateComments:
		for _, c := range v.Comments {
			fmt.Fprintf(w, "[%d] %q\n     %s\n", c.ID, c.Message, ratingText(v.Language, c.Rating))
		}
	case flow.Qualitative:
		for _, q := range v.Questions {
			fmt.Fprintf(w, "[%d] %s\n", q.ID, q.Prompt)
			if q.Response != "" {
				fmt.Fprintf(w, "     > %s\n", q.Response)
			}
		}
	case flow.PersonalInfo:
		renderRespondent(w, v.Respondent)
		if v.Locations != nil {
			names := make([]string, 0, len(v.Locations.Provinces))
			for _, p := range v.Locations.Provinces {
				names = append(names, p.Name)
			}
			fmt.Fprintf(w, "provinces: %s\n", strings.Join(names, ", "))
		}
	case flow.Review:
		for _, q := range v.Questions {
			if q.Rating != nil || q.Kind != models.KindQualitative {
				fmt.Fprintf(w, "[%d] %s: %s\n", q.ID, q.Prompt, ratingText(v.Language, q.Rating))
				continue
			}
			fmt.Fprintf(w, "[%d] %s: %s\n", q.ID, q.Prompt, q.Response)
		}
		renderRespondent(w, v.Respondent)
	case flow.PeerResponses:
		if v.Peers != nil {
			fmt.Fprintf(w, "respondents: %d\n", v.Peers.Respondents)
			for _, q := range v.Peers.Questions {
				fmt.Fprintf(w, "[%d] median %.1f, %d answered, %d skipped, histogram %v\n",
					q.QuestionID, q.Median, q.Count, q.Skipped, q.Histogram)
			}
		}
	}

	if v.Submitted {
		fmt.Fprintln(w, utils.T(v.Language, "submit.done"))
	}
	switch v.SyncState {
	case record.Registered, record.Finalized:
		fmt.Fprintln(w, utils.T(v.Language, "sync.synced"))
	default:
		fmt.Fprintln(w, utils.T(v.Language, "sync.offline"))
	}
}

func renderRespondent(w io.Writer, d record.RespondentData) {
	age := ""
	if d.Age != nil {
		age = strconv.Itoa(*d.Age)
	}
	for _, f := range []struct{ name, value string }{
		{record.FieldAge, age},
		{record.FieldGender, d.Gender},
		{record.FieldProvince, d.Province},
		{record.FieldCityOrMunicipality, d.CityOrMunicipality},
		{record.FieldBarangay, d.Barangay},
	} {
		fmt.Fprintf(w, "%-22s %s\n", f.name+":", f.value)
	}
}

func ratingText(lang string, s *record.Score) string {
	switch {
	case s == nil:
		return utils.T(lang, "rating.unanswered")
	case *s == record.Skipped:
		return utils.T(lang, "rating.skipped")
	default:
		return strconv.Itoa(int(*s))
	}
}

func renderStatus(w io.Writer, s *flow.Session, server string, pending int, stale []string) {
	r := s.Record
	fmt.Fprintf(w, "response:      %s\n", r.ID)
	if r.RespondentID != "" {
		fmt.Fprintf(w, "server id:     %s\n", r.RespondentID)
	}
	fmt.Fprintf(w, "page:          %s\n", s.Page)
	fmt.Fprintf(w, "language:      %s\n", s.Language)
	fmt.Fprintf(w, "submitted:     %t\n", r.Submitted)
	fmt.Fprintf(w, "sync:          %s\n", r.Sync.State)
	if r.Sync.LastError != "" {
		fmt.Fprintf(w, "last error:    %s\n", r.Sync.LastError)
	}
	fmt.Fprintf(w, "server:        %s\n", server)
	fmt.Fprintf(w, "unsent:        %d\n", pending)
	if len(stale) > 0 {
		fmt.Fprintf(w, "stale:         %s\n", strings.Join(stale, ", "))
	}
}
