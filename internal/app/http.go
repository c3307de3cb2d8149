package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/auth"
	"github.com/kausaltech/kausal-watch-sub001/internal/authpw"
	"github.com/kausaltech/kausal-watch-sub001/internal/people"
	"github.com/kausaltech/kausal-watch-sub001/internal/search"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/v1/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/v1/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/v1/check_login_method" {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		method, err := s.service.CheckLoginMethod(r.Context(), body.Email)
		if err != nil {
			status, code, detail, details := mapError(err)
			writeError(w, status, code, detail, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"method": method})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/v1/login" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		token, session, err := s.service.Login(r.Context(), body.Email, body.Password)
		if err != nil {
			var checkErr *authpw.CheckError
			if errors.As(err, &checkErr) && checkErr.Code == authpw.CodeThrottled {
				writeError(w, http.StatusTooManyRequests, checkErr.Code, checkErr.Detail, nil)
				return
			}
			if errors.Is(err, authpw.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
				return
			}
			status, code, detail, details := mapError(err)
			writeError(w, status, code, detail, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     token,
			"userId":    session.UserID,
			"email":     session.Email,
			"superuser": session.Superuser,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/v1/search" {
		q := search.Query{
			Text:         strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType:   search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
			FilterPlanID: strings.TrimSpace(r.URL.Query().Get("plan")),
			Limit:        20,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "validation_error", "limit must be an integer", nil)
				return
			}
			q.Limit = parsed
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "validation_error", "offset must be an integer", nil)
				return
			}
			q.Offset = parsed
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}

	switch parts[1] {
	case "plans":
		s.handlePlans(w, r, session, parts)
	case "actions":
		s.handleActions(w, r, session, parts)
	case "tasks":
		s.handleTasks(w, r, session, parts)
	case "indicators":
		s.handleIndicators(w, r, session, parts)
	case "category_types":
		s.handleCategoryTypes(w, r, session, parts)
	case "categories":
		s.handleCategories(w, r, session, parts)
	case "people":
		s.handlePeople(w, r, session, parts)
	case "reports":
		s.handleReports(w, r, session, parts)
	default:
		writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
	}
}

func (s *HTTPServer) handlePlans(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodGet && len(parts) == 2 {
		if hostname := r.URL.Query().Get("domain"); hostname != "" {
			plan, err := s.service.GetPlanByDomain(r.Context(), hostname)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, planJSON(plan))
			return
		}
		plans, err := s.service.ListPlans(r.Context())
		if err != nil {
			writeMapped(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(plans))
		for _, p := range plans {
			payload = append(payload, planJSON(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": payload})
		return
	}
	if r.Method == http.MethodGet && len(parts) == 3 {
		plan, err := s.service.ResolvePlan(r.Context(), parts[2], "")
		if err != nil {
			writeMapped(w, err)
			return
		}
		payload := planJSON(plan)
		for _, inc := range splitList(r.URL.Query().Get("include")) {
			switch inc {
			case "actions":
				actions, err := s.service.ListActions(r.Context(), session, plan.ID)
				if err != nil {
					writeMapped(w, err)
					return
				}
				nested := make([]map[string]any, 0, len(actions))
				for _, a := range actions {
					nested = append(nested, actionJSON(a))
				}
				payload["actions"] = nested
			case "indicators":
				indicators, err := s.service.ListIndicators(r.Context(), session, plan.ID)
				if err != nil {
					writeMapped(w, err)
					return
				}
				nested := make([]map[string]any, 0, len(indicators))
				for _, ind := range indicators {
					nested = append(nested, indicatorJSON(ind))
				}
				payload["indicators"] = nested
			default:
				writeError(w, http.StatusUnprocessableEntity, "validation_error", "unknown include: "+inc, nil)
				return
			}
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

func (s *HTTPServer) handleActions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// /v1/actions
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			plan, err := s.service.ResolvePlan(r.Context(), r.URL.Query().Get("plan"), r.URL.Query().Get("plan_identifier"))
			if err != nil {
				writeMapped(w, err)
				return
			}
			var actions []store.Action
			if r.URL.Query().Get("editable") == "true" {
				actions, err = s.service.ListEditableActions(r.Context(), session, plan.ID)
			} else {
				actions, err = s.service.ListActions(r.Context(), session, plan.ID)
			}
			if err != nil {
				writeMapped(w, err)
				return
			}
			if err := sortActions(actions, r.URL.Query().Get("orderBy")); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
				return
			}
			payload := make([]map[string]any, 0, len(actions))
			for _, a := range actions {
				payload = append(payload, actionJSON(a))
			}
			writeJSON(w, http.StatusOK, map[string]any{"actions": payload})
			return
		case http.MethodPost:
			var body actionBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			created, err := s.service.CreateAction(r.Context(), session, body.toAction())
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, actionJSON(created))
			return
		}
	}

	// /v1/actions/{id}
	if len(parts) == 3 {
		actionID := parts[2]
		switch r.Method {
		case http.MethodGet:
			action, err := s.service.GetAction(r.Context(), session, actionID)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, actionJSON(action))
			return
		case http.MethodPut:
			var body actionBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			if body.UpdatedAt.IsZero() {
				writeError(w, http.StatusUnprocessableEntity, "validation_error", "updated_at is required", nil)
				return
			}
			a := body.toAction()
			a.ID = actionID
			updated, err := s.service.UpdateAction(r.Context(), session, a, body.UpdatedAt)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, actionJSON(updated))
			return
		case http.MethodDelete:
			if err := s.service.DeleteAction(r.Context(), session, actionID); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /v1/actions/{id}/tasks
	if len(parts) == 4 && parts[3] == "tasks" {
		actionID := parts[2]
		switch r.Method {
		case http.MethodGet:
			tasks, err := s.service.ListTasks(r.Context(), session, actionID)
			if err != nil {
				writeMapped(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(tasks))
			for _, t := range tasks {
				payload = append(payload, taskJSON(t))
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": payload})
			return
		case http.MethodPost:
			var body taskBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			task, err := body.toTask()
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
				return
			}
			task.ActionID = actionID
			created, err := s.service.CreateTask(r.Context(), session, task)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, taskJSON(created))
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}
	taskID := parts[2]
	switch r.Method {
	case http.MethodPut:
		var body taskBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		task, err := body.toTask()
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
			return
		}
		task.ID = taskID
		updated, err := s.service.UpdateTask(r.Context(), session, task)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taskJSON(updated))
	case http.MethodDelete:
		if err := s.service.DeleteTask(r.Context(), session, taskID); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
	}
}

func (s *HTTPServer) handleIndicators(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			plan, err := s.service.ResolvePlan(r.Context(), r.URL.Query().Get("plan"), r.URL.Query().Get("plan_identifier"))
			if err != nil {
				writeMapped(w, err)
				return
			}
			var indicators []store.Indicator
			if r.URL.Query().Get("editable") == "true" {
				indicators, err = s.service.ListEditableIndicators(r.Context(), session, plan.ID)
			} else {
				indicators, err = s.service.ListIndicators(r.Context(), session, plan.ID)
			}
			if err != nil {
				writeMapped(w, err)
				return
			}
			if err := sortIndicators(indicators, r.URL.Query().Get("orderBy")); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
				return
			}
			payload := make([]map[string]any, 0, len(indicators))
			for _, ind := range indicators {
				payload = append(payload, indicatorJSON(ind))
			}
			writeJSON(w, http.StatusOK, map[string]any{"indicators": payload})
			return
		case http.MethodPost:
			var body indicatorBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			created, err := s.service.CreateIndicator(r.Context(), session, body.toIndicator())
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, indicatorJSON(created))
			return
		}
	}

	if len(parts) == 3 && r.Method == http.MethodPut {
		var body indicatorBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		if body.UpdatedAt.IsZero() {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", "updated_at is required", nil)
			return
		}
		ind := body.toIndicator()
		ind.ID = parts[2]
		updated, err := s.service.UpdateIndicator(r.Context(), session, ind, body.UpdatedAt)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, indicatorJSON(updated))
		return
	}

	if len(parts) == 4 && parts[3] == "values" {
		indicatorID := parts[2]
		switch r.Method {
		case http.MethodGet:
			values, err := s.service.ListIndicatorValues(r.Context(), session, indicatorID)
			if err != nil {
				writeMapped(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(values))
			for _, v := range values {
				payload = append(payload, valueJSON(v))
			}
			writeJSON(w, http.StatusOK, map[string]any{"values": payload})
			return
		case http.MethodPost:
			var body struct {
				Values []valueBody `json:"values"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
				return
			}
			values, err := toValues(body.Values)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
				return
			}
			if err := s.service.ReplaceIndicatorValues(r.Context(), session, indicatorID, values); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(values)})
			return
		}
	}

	if len(parts) == 4 && parts[3] == "goals" && r.Method == http.MethodPost {
		indicatorID := parts[2]
		var body struct {
			Goals []valueBody `json:"goals"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		goals, err := toGoals(body.Goals)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
			return
		}
		if err := s.service.ReplaceIndicatorGoals(r.Context(), session, indicatorID, goals); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(goals)})
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

func (s *HTTPServer) handleCategoryTypes(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodGet && len(parts) == 2 {
		plan, err := s.service.ResolvePlan(r.Context(), r.URL.Query().Get("plan"), r.URL.Query().Get("plan_identifier"))
		if err != nil {
			writeMapped(w, err)
			return
		}
		types, err := s.service.ListCategoryTypes(r.Context(), plan.ID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(types))
		for _, ct := range types {
			payload = append(payload, map[string]any{
				"id":         ct.ID,
				"planId":     ct.PlanID,
				"identifier": ct.Identifier,
				"name":       ct.Name,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"categoryTypes": payload})
		return
	}
	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "categories" {
		categories, err := s.service.ListCategories(r.Context(), parts[2])
		if err != nil {
			writeMapped(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(categories))
		for _, c := range categories {
			payload = append(payload, categoryJSON(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": payload})
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodPost && len(parts) == 2 {
		var body struct {
			PlanID     string  `json:"planId"`
			TypeID     string  `json:"typeId"`
			Identifier string  `json:"identifier"`
			Name       string  `json:"name"`
			ParentID   *string `json:"parentId"`
			SortOrder  int     `json:"sortOrder"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		created, err := s.service.CreateCategory(r.Context(), session, body.PlanID, store.Category{
			TypeID:     body.TypeID,
			Identifier: body.Identifier,
			Name:       body.Name,
			ParentID:   body.ParentID,
			SortOrder:  body.SortOrder,
		})
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, categoryJSON(created))
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

func (s *HTTPServer) handlePeople(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodPost && len(parts) == 2 {
		var body struct {
			PlanID         string `json:"planId"`
			FirstName      string `json:"firstName"`
			LastName       string `json:"lastName"`
			Email          string `json:"email"`
			OrganizationID string `json:"organizationId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		created, err := s.service.CreatePerson(r.Context(), session, body.PlanID, store.Person{
			FirstName:      body.FirstName,
			LastName:       body.LastName,
			Email:          body.Email,
			OrganizationID: body.OrganizationID,
		})
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, personJSON(created))
		return
	}
	if r.Method == http.MethodPut && len(parts) == 4 && parts[3] == "email" {
		var body struct {
			PlanID string `json:"planId"`
			Email  string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		updated, err := s.service.ChangePersonEmail(r.Context(), session, body.PlanID, parts[2], body.Email)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, personJSON(updated))
		return
	}
	if r.Method == http.MethodPut && len(parts) == 4 && parts[3] == "workflow_role" {
		var body struct {
			PlanID string `json:"planId"`
			Role   string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
		if err := s.service.SetPersonWorkflowRole(r.Context(), session, body.PlanID, parts[2], body.Role); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}
	reportID := parts[2]

	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "export.xlsx" {
		data, filename, err := s.service.DownloadReport(r.Context(), session, reportID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 {
		switch parts[3] {
		case "complete":
			if err := s.service.MarkReportComplete(r.Context(), session, reportID, true); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "undo_complete":
			if err := s.service.MarkReportComplete(r.Context(), session, reportID, false); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /v1/reports/{id}/actions/{action_id}/complete
	if r.Method == http.MethodPost && len(parts) == 6 && parts[3] == "actions" {
		actionID := parts[4]
		switch parts[5] {
		case "complete":
			if err := s.service.MarkActionComplete(r.Context(), session, reportID, actionID, true); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "undo_complete":
			if err := s.service.MarkActionComplete(r.Context(), session, reportID, actionID, false); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
}

// --- Request bodies ---

type actionBody struct {
	PlanID                string    `json:"planId"`
	Identifier            string    `json:"identifier"`
	Name                  string    `json:"name"`
	Status                string    `json:"status"`
	ImplementationPhaseID *string   `json:"implementationPhaseId"`
	PrimaryOrgID          *string   `json:"primaryOrgId"`
	Visibility            string    `json:"visibility"`
	UpdatedAt             time.Time `json:"updatedAt"`
	MergedWithID          *string   `json:"mergedWithId"`
	SupersededByID        *string   `json:"supersededById"`
}

func (b actionBody) toAction() store.Action {
	return store.Action{
		PlanID:                b.PlanID,
		Identifier:            b.Identifier,
		Name:                  b.Name,
		Status:                b.Status,
		ImplementationPhaseID: b.ImplementationPhaseID,
		PrimaryOrgID:          b.PrimaryOrgID,
		Visibility:            store.ActionVisibility(b.Visibility),
		MergedWithID:          b.MergedWithID,
		SupersededByID:        b.SupersededByID,
	}
}

type taskBody struct {
	Name  string `json:"name"`
	DueAt string `json:"dueAt"`
	State string `json:"state"`
}

func (b taskBody) toTask() (store.ActionTask, error) {
	var due time.Time
	if b.DueAt != "" {
		parsed, err := time.Parse("2006-01-02", b.DueAt)
		if err != nil {
			return store.ActionTask{}, fmt.Errorf("dueAt must be a YYYY-MM-DD date")
		}
		due = parsed
	}
	return store.ActionTask{
		Name:  b.Name,
		DueAt: due,
		State: store.TaskState(b.State),
	}, nil
}

type indicatorBody struct {
	PlanID             string    `json:"planId"`
	OrganizationID     string    `json:"organizationId"`
	Identifier         string    `json:"identifier"`
	Name               string    `json:"name"`
	Quantity           string    `json:"quantity"`
	Unit               string    `json:"unit"`
	TimeResolution     string    `json:"timeResolution"`
	UpdatedValuesDueAt string    `json:"updatedValuesDueAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (b indicatorBody) toIndicator() store.Indicator {
	ind := store.Indicator{
		PlanID:         b.PlanID,
		OrganizationID: b.OrganizationID,
		Identifier:     b.Identifier,
		Name:           b.Name,
		Quantity:       b.Quantity,
		Unit:           b.Unit,
		TimeResolution: store.TimeResolution(b.TimeResolution),
	}
	if b.UpdatedValuesDueAt != "" {
		if due, err := time.Parse("2006-01-02", b.UpdatedValuesDueAt); err == nil {
			ind.UpdatedValuesDueAt = &due
		}
	}
	return ind
}

type valueBody struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

func toValues(bodies []valueBody) ([]store.IndicatorValue, error) {
	values := make([]store.IndicatorValue, 0, len(bodies))
	for _, b := range bodies {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			return nil, fmt.Errorf("date must be a YYYY-MM-DD date")
		}
		values = append(values, store.IndicatorValue{Date: date, Value: b.Value})
	}
	return values, nil
}

func toGoals(bodies []valueBody) ([]store.IndicatorGoal, error) {
	goals := make([]store.IndicatorGoal, 0, len(bodies))
	for _, b := range bodies {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			return nil, fmt.Errorf("date must be a YYYY-MM-DD date")
		}
		goals = append(goals, store.IndicatorGoal{Date: date, Value: b.Value})
	}
	return goals, nil
}

// --- Response payloads ---

func planJSON(p store.Plan) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"identifier":      p.Identifier,
		"name":            p.Name,
		"siteTitle":       p.SiteTitle,
		"siteUrl":         p.SiteURL,
		"primaryLanguage": p.PrimaryLanguage,
		"otherLanguages":  p.OtherLanguages,
		"organizationId":  p.OrganizationID,
		"timezone":        p.Timezone,
	}
}

func actionJSON(a store.Action) map[string]any {
	return map[string]any{
		"id":                    a.ID,
		"uuid":                  a.UUID,
		"planId":                a.PlanID,
		"identifier":            a.Identifier,
		"name":                  a.Name,
		"status":                a.Status,
		"implementationPhaseId": a.ImplementationPhaseID,
		"primaryOrgId":          a.PrimaryOrgID,
		"visibility":            a.Visibility,
		"mergedWithId":          a.MergedWithID,
		"supersededById":        a.SupersededByID,
		"updatedAt":             a.UpdatedAt,
	}
}

func taskJSON(t store.ActionTask) map[string]any {
	payload := map[string]any{
		"id":       t.ID,
		"actionId": t.ActionID,
		"name":     t.Name,
		"dueAt":    t.DueAt.Format("2006-01-02"),
		"state":    t.State,
	}
	if t.CompletedAt != nil {
		payload["completedAt"] = t.CompletedAt
	}
	return payload
}

func indicatorJSON(ind store.Indicator) map[string]any {
	payload := map[string]any{
		"id":             ind.ID,
		"uuid":           ind.UUID,
		"planId":         ind.PlanID,
		"organizationId": ind.OrganizationID,
		"identifier":     ind.Identifier,
		"name":           ind.Name,
		"quantity":       ind.Quantity,
		"unit":           ind.Unit,
		"timeResolution": ind.TimeResolution,
		"updatedAt":      ind.UpdatedAt,
	}
	if ind.UpdatedValuesDueAt != nil {
		payload["updatedValuesDueAt"] = ind.UpdatedValuesDueAt.Format("2006-01-02")
	}
	return payload
}

func valueJSON(v store.IndicatorValue) map[string]any {
	return map[string]any{
		"id":    v.ID,
		"date":  v.Date.Format("2006-01-02"),
		"value": v.Value,
	}
}

func categoryJSON(c store.Category) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"typeId":     c.TypeID,
		"identifier": c.Identifier,
		"name":       c.Name,
		"parentId":   c.ParentID,
		"sortOrder":  c.SortOrder,
	}
}

func personJSON(p store.Person) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"firstName":      p.FirstName,
		"lastName":       p.LastName,
		"email":          p.Email,
		"organizationId": p.OrganizationID,
	}
}

// --- Plumbing ---

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "server_error", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, detail string, details any) {
	response := map[string]any{
		"detail": detail,
		"code":   code,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMapped(w http.ResponseWriter, err error) {
	status, code, detail, details := mapError(err)
	writeError(w, status, code, detail, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// sortActions orders an action list by one of the whitelisted keys. The
// empty key keeps the store's identifier ordering.
func sortActions(actions []store.Action, orderBy string) error {
	switch orderBy {
	case "", "identifier":
		return nil
	case "name":
		sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	case "updatedAt":
		sort.Slice(actions, func(i, j int) bool { return actions[i].UpdatedAt.After(actions[j].UpdatedAt) })
	default:
		return fmt.Errorf("unknown orderBy: %s", orderBy)
	}
	return nil
}

func sortIndicators(indicators []store.Indicator, orderBy string) error {
	switch orderBy {
	case "", "identifier":
		return nil
	case "name":
		sort.Slice(indicators, func(i, j int) bool { return indicators[i].Name < indicators[j].Name })
	case "updatedAt":
		sort.Slice(indicators, func(i, j int) bool { return indicators[i].UpdatedAt.After(indicators[j].UpdatedAt) })
	default:
		return fmt.Errorf("unknown orderBy: %s", orderBy)
	}
	return nil
}

func mapError(err error) (status int, code, detail string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var checkErr *authpw.CheckError
	if errors.As(err, &checkErr) {
		status := http.StatusBadRequest
		if checkErr.Code == authpw.CodeThrottled {
			status = http.StatusTooManyRequests
		}
		return status, checkErr.Code, checkErr.Detail, nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "not_found", "Not found", nil
	}
	if errors.Is(err, store.ErrConcurrent) {
		return http.StatusConflict, "conflict", "The object was modified by someone else", nil
	}
	if errors.Is(err, people.ErrEmailInUse) {
		return http.StatusConflict, "email_in_use", "A person with this email already exists", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "unauthorized", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "server_error", "Server error", nil
}
