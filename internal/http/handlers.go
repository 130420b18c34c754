package http

import (
	"net/http"
	"strconv"
	"strings"

	"tally/internal/core"
	"tally/internal/services"
)

// ruleRequest is the create/update payload. Amount is a decimal string
// ("4.50") parsed to cents at the boundary; dates are ISO YYYY-MM-DD.
type ruleRequest struct {
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	Amount         string               `json:"amount"`
	Category       string               `json:"category"`
	Frequency      string               `json:"frequency"`
	Config         core.FrequencyConfig `json:"frequency_config"`
	StartDate      string               `json:"start_date"`
	EndDate        string               `json:"end_date"`
	MaxGenerations int64                `json:"max_generations"`
}

// definition converts the payload into a service definition, collecting
// parse failures as field errors so callers see them all at once.
func (req ruleRequest) definition() (services.RuleDefinition, error) {
	var verr core.ValidationError

	def := services.RuleDefinition{
		Name:           req.Name,
		Description:    req.Description,
		Category:       req.Category,
		Frequency:      core.Frequency(req.Frequency),
		Config:         req.Config,
		MaxGenerations: req.MaxGenerations,
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		verr.Fields = append(verr.Fields, core.FieldError{Field: "amount", Message: err.Error()})
	}
	def.Amount = amount

	if strings.TrimSpace(req.StartDate) == "" {
		verr.Fields = append(verr.Fields, core.FieldError{Field: "start_date", Message: "start date is required"})
	} else {
		start, err := core.ParseDate(req.StartDate)
		if err != nil {
			verr.Fields = append(verr.Fields, core.FieldError{Field: "start_date", Message: "invalid date, want YYYY-MM-DD"})
		}
		def.StartDate = start
	}

	if strings.TrimSpace(req.EndDate) != "" {
		end, err := core.ParseDate(req.EndDate)
		if err != nil {
			verr.Fields = append(verr.Fields, core.FieldError{Field: "end_date", Message: "invalid date, want YYYY-MM-DD"})
		}
		def.EndDate = end
	}

	if len(verr.Fields) > 0 {
		return def, &verr
	}
	return def, nil
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	rules, err := s.rules.ListRules(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []core.RecurrenceRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := req.definition()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	created, err := s.rules.CreateRule(r.Context(), owner, def)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rule, err := s.rules.GetRule(r.Context(), owner, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := req.definition()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	updated, err := s.rules.UpdateRule(r.Context(), owner, id, def)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.rules.DeleteRule(r.Context(), owner, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rule, err := s.scheduler.ToggleRuleActive(r.Context(), owner, id, req.Active)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	asOf, ok := queryDate(w, r, "as_of")
	if !ok {
		return
	}

	summary, err := s.scheduler.GenerateDueOccurrences(r.Context(), owner, asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if summary.Generated == nil {
		summary.Generated = []core.Expense{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	days := s.defaultHorizonDays
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 3650 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 3650")
			return
		}
		days = parsed
	}

	upcoming, err := s.projections.UpcomingOccurrences(r.Context(), owner, days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if upcoming == nil {
		upcoming = []services.UpcomingOccurrence{}
	}
	writeJSON(w, http.StatusOK, upcoming)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	from, ok := queryDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to")
	if !ok {
		return
	}

	expenses, err := s.expenses.ListExpenses(r.Context(), owner, from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []core.Expense{}
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if _, ok := ownerID(w, r); !ok {
		return
	}

	categories, err := s.categories.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, categories)
}
