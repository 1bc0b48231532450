package route

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"roster/src-server/model"
	"roster/src-server/utils"
	"strconv"
	"strings"
)

type EventRespBody struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Date           string `json:"date,omitempty"`
	URL            string `json:"url"`
	AttendeeCount  int    `json:"attendeeCount"`
	TotalAttendees *int   `json:"totalAttendees,omitempty"`
}

type AttendeeRespBody struct {
	ID          int64  `json:"id"`
	EventID     int64  `json:"eventId"`
	EventName   string `json:"eventName,omitempty"`
	EventDate   string `json:"eventDate"`
	FullName    string `json:"fullName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	ProfileURL  string `json:"profileUrl,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
	GuestCount  int    `json:"guestCount"`
	Email       string `json:"email,omitempty"`
	Company     string `json:"company,omitempty"`
	JobTitle    string `json:"jobTitle,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type AttendeePageRespBody struct {
	Page       int                `json:"page"`
	TotalPages int                `json:"totalPages"`
	Total      int                `json:"total"`
	Attendees  []AttendeeRespBody `json:"attendees"`
}

// Read-only views over the store. Nothing here writes.
func API(muxer *http.ServeMux, as *utils.AppState) {
	type NameCountRespBody struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Count     int    `json:"count"`
	}

	type OverviewRespBody struct {
		TotalAttendees int                 `json:"totalAttendees"`
		TotalEvents    int                 `json:"totalEvents"`
		TotalProfiles  int                 `json:"totalProfiles"`
		AnonymousCount int                 `json:"anonymousCount"`
		NamedCount     int                 `json:"namedCount"`
		RecentEvent    *EventRespBody      `json:"recentEvent"`
		TopNames       []NameCountRespBody `json:"topNames"`
		UptimeSeconds  int64               `json:"uptimeSeconds"`
	}

	// counts, most recent event, most frequent names
	muxer.HandleFunc("GET /api/overview", func(w http.ResponseWriter, r *http.Request) {
		overview, err := model.GetOverview(r.Context(), as.BunDB)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Can't get overview", err)
			return
		}

		resp := OverviewRespBody{
			TotalAttendees: overview.TotalAttendees,
			TotalEvents:    overview.TotalEvents,
			TotalProfiles:  overview.TotalProfiles,
			AnonymousCount: overview.AnonymousCount,
			NamedCount:     overview.NamedCount,
			TopNames:       make([]NameCountRespBody, 0, len(overview.TopNames)),
			UptimeSeconds:  int64(as.GetUptime().Seconds()),
		}
		if e := overview.RecentEvent; e != nil {
			resp.RecentEvent = &EventRespBody{
				ID:             e.ID,
				Name:           e.Name,
				Date:           e.Date,
				URL:            e.URL,
				TotalAttendees: e.TotalAttendees,
			}
		}
		for _, name := range overview.TopNames {
			resp.TopNames = append(resp.TopNames, NameCountRespBody{
				FirstName: name.FirstName,
				LastName:  name.LastName,
				Count:     name.Count,
			})
		}
		writeJSON(w, resp)
	})

	muxer.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		events, err := model.ListEvents(r.Context(), as.BunDB)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Can't list events", err)
			return
		}
		resp := make([]EventRespBody, 0, len(events))
		for _, e := range events {
			resp = append(resp, EventRespBody{
				ID:            e.ID,
				Name:          e.Name,
				Date:          e.Date,
				URL:           e.URL,
				AttendeeCount: e.AttendeeCount,
			})
		}
		writeJSON(w, resp)
	})

	// ?page=N, 20 per page
	muxer.HandleFunc("GET /api/events/{id}/attendees", func(w http.ResponseWriter, r *http.Request) {
		eventID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || eventID <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid event id", err)
			return
		}
		page, ok := pageParam(w, r)
		if !ok {
			return
		}
		attendeePage, err := model.ListEventAttendees(r.Context(), as.BunDB, eventID, page)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Can't list attendees", err)
			return
		}
		writeJSON(w, toAttendeePageRespBody(attendeePage))
	})

	// ?q=name&page=N
	muxer.HandleFunc("GET /api/attendees", func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			writeError(w, http.StatusBadRequest, "Missing search query", nil)
			return
		}
		page, ok := pageParam(w, r)
		if !ok {
			return
		}
		attendeePage, err := model.SearchAttendees(r.Context(), as.BunDB, query, page)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Can't search attendees", err)
			return
		}
		writeJSON(w, toAttendeePageRespBody(attendeePage))
	})
}

func toAttendeePageRespBody(page *model.Page) AttendeePageRespBody {
	resp := AttendeePageRespBody{
		Page:       page.Page,
		TotalPages: page.TotalPages,
		Total:      page.Total,
		Attendees:  make([]AttendeeRespBody, 0, len(page.Attendees)),
	}
	for _, row := range page.Attendees {
		resp.Attendees = append(resp.Attendees, AttendeeRespBody{
			ID:          row.ID,
			EventID:     row.EventID,
			EventName:   row.EventName,
			EventDate:   row.EventDate,
			FullName:    row.FullName,
			FirstName:   row.FirstName,
			LastName:    row.LastName,
			ProfileURL:  row.ProfileURL,
			IsAnonymous: row.IsAnonymous,
			GuestCount:  row.GuestCount,
			Email:       row.Email,
			Company:     row.Company,
			JobTitle:    row.JobTitle,
			Phone:       row.Phone,
		})
	}
	return resp
}

func pageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	pageStr := r.URL.Query().Get("page")
	if pageStr == "" {
		return 1, true
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return 0, false
	}
	return page, true
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("can't encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		slog.Error(strings.ToLower(msg), "error", err)
	}
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
