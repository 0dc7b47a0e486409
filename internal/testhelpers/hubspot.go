package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/johnwards/hubsync/internal/domain"
)

// Operation keys accepted by FakeHubSpot.Fail.
const (
	OpToken = "token"
)

// OpSearch is the failure key for searches of objectType.
func OpSearch(objectType string) string { return "search:" + objectType }

// OpAssociations is the failure key for association batch reads.
func OpAssociations(from, to string) string {
	return "associations:" + strings.ToLower(from) + ":" + strings.ToLower(to)
}

// OpBatchRead is the failure key for object batch reads of objectType.
func OpBatchRead(objectType string) string { return "batch:" + objectType }

// FakeHubSpot is an in-memory HubSpot API serving the search, association,
// batch read and OAuth token endpoints over httptest.
type FakeHubSpot struct {
	Server *httptest.Server

	mu           sync.Mutex
	objects      map[string][]*domain.Object
	associations map[string]map[string][]string
	failures     map[string]failure
	searches     map[string][]domain.SearchRequest
	calls        map[string]int

	refreshToken string
	accessToken  string
	issued       map[string]bool
	expiresIn    int
	tokenSerial  int
	requireAuth  bool
}

type failure struct {
	remaining int
	status    int
}

// NewFakeHubSpot starts a fake server that is closed with the test. It
// accepts the refresh token "refresh-token" and issues tokens valid for
// 30 minutes.
func NewFakeHubSpot(t *testing.T) *FakeHubSpot {
	t.Helper()

	f := &FakeHubSpot{
		objects:      make(map[string][]*domain.Object),
		associations: make(map[string]map[string][]string),
		failures:     make(map[string]failure),
		searches:     make(map[string][]domain.SearchRequest),
		calls:        make(map[string]int),
		issued:       make(map[string]bool),
		refreshToken: "refresh-token",
		expiresIn:    1800,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /crm/v3/objects/{objectType}/search", f.handleSearch)
	mux.HandleFunc("POST /crm/v3/objects/{objectType}/batch/read", f.handleBatchRead)
	mux.HandleFunc("POST /crm/v3/associations/{from}/{to}/batch/read", f.handleAssociations)
	mux.HandleFunc("POST /oauth/v1/token", f.handleToken)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeHubSpot) URL() string { return f.Server.URL }

// TokenURL returns the OAuth token endpoint.
func (f *FakeHubSpot) TokenURL() string { return f.Server.URL + "/oauth/v1/token" }

// RequireAuth makes CRM endpoints reject requests whose bearer token was not
// issued by the token endpoint.
func (f *FakeHubSpot) RequireAuth(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requireAuth = on
}

// SetRefreshToken changes the refresh token the token endpoint accepts.
func (f *FakeHubSpot) SetRefreshToken(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshToken = tok
}

// SetExpiresIn changes the lifetime in seconds of issued tokens.
func (f *FakeHubSpot) SetExpiresIn(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiresIn = seconds
}

// AccessToken returns the last issued access token.
func (f *FakeHubSpot) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessToken
}

// Add stores objects under objectType.
func (f *FakeHubSpot) Add(objectType string, objs ...*domain.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectType] = append(f.objects[objectType], objs...)
}

// Associate records fromID -> toIDs for the from/to object types.
func (f *FakeHubSpot) Associate(fromType, fromID, toType string, toIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(fromType) + ":" + strings.ToLower(toType)
	if f.associations[key] == nil {
		f.associations[key] = make(map[string][]string)
	}
	f.associations[key][fromID] = append(f.associations[key][fromID], toIDs...)
}

// Fail makes the next n calls of op return status. n < 0 fails forever.
func (f *FakeHubSpot) Fail(op string, n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = failure{remaining: n, status: status}
}

// Calls returns how many times op was called, failures included.
func (f *FakeHubSpot) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Searches returns the search requests received for objectType.
func (f *FakeHubSpot) Searches(objectType string) []domain.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SearchRequest(nil), f.searches[objectType]...)
}

// enter counts the call and reports an injected failure status, or 0.
func (f *FakeHubSpot) enter(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	fl, ok := f.failures[op]
	if !ok || fl.remaining == 0 {
		return 0
	}
	if fl.remaining > 0 {
		fl.remaining--
		f.failures[op] = fl
	}
	return fl.status
}

func (f *FakeHubSpot) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.requireAuth {
		return true
	}
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return f.issued[tok]
}

func (f *FakeHubSpot) guard(w http.ResponseWriter, r *http.Request, op string) bool {
	if status := f.enter(op); status != 0 {
		writeError(w, status, "INTERNAL_ERROR", "injected failure for "+op)
		return false
	}
	if !f.authorized(r) {
		writeError(w, http.StatusUnauthorized, "EXPIRED_AUTHENTICATION", "The OAuth token used to make this call expired.")
		return false
	}
	return true
}

func (f *FakeHubSpot) handleSearch(w http.ResponseWriter, r *http.Request) {
	objectType := r.PathValue("objectType")
	if !f.guard(w, r, OpSearch(objectType)) {
		return
	}

	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input JSON")
		return
	}

	f.mu.Lock()
	f.searches[objectType] = append(f.searches[objectType], req)
	matched := make([]*domain.Object, 0, len(f.objects[objectType]))
	for _, obj := range f.objects[objectType] {
		if matchesFilterGroups(obj, req.FilterGroups) {
			matched = append(matched, obj)
		}
	}
	f.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	offset := 0
	if req.After != "" {
		n, err := strconv.Atoi(req.After)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid after cursor")
			return
		}
		offset = n
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	result := domain.SearchResult{Total: len(matched), Results: []*domain.Object{}}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		result.Results = matched[offset:end]
	}
	if offset+limit < len(matched) {
		result.Paging = &domain.SearchPaging{Next: domain.SearchPagingNext{After: strconv.Itoa(offset + limit)}}
	}
	writeJSON(w, http.StatusOK, result)
}

// matchesFilterGroups applies GTE/LTE filters on the modification date
// properties. Other filters match everything.
func matchesFilterGroups(obj *domain.Object, groups []domain.FilterGroup) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		ok := true
		for _, flt := range g.Filters {
			if !matchesFilter(obj, flt) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func matchesFilter(obj *domain.Object, flt domain.Filter) bool {
	if flt.PropertyName != "hs_lastmodifieddate" && flt.PropertyName != "lastmodifieddate" {
		return true
	}
	v, err := strconv.ParseInt(flt.Value, 10, 64)
	if err != nil {
		return false
	}
	ts := obj.UpdatedAt.UnixMilli()
	switch flt.Operator {
	case "GTE":
		return ts >= v
	case "LTE":
		return ts <= v
	case "GT":
		return ts > v
	case "LT":
		return ts < v
	}
	return true
}

func (f *FakeHubSpot) handleBatchRead(w http.ResponseWriter, r *http.Request) {
	objectType := r.PathValue("objectType")
	if !f.guard(w, r, OpBatchRead(objectType)) {
		return
	}

	var req domain.BatchReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input JSON")
		return
	}

	f.mu.Lock()
	byID := make(map[string]*domain.Object, len(f.objects[objectType]))
	for _, obj := range f.objects[objectType] {
		byID[obj.ID] = obj
	}
	f.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	result := domain.BatchResult{Status: "COMPLETE", Results: []*domain.Object{}, StartedAt: now, CompletedAt: now}
	for _, in := range req.Inputs {
		if obj, ok := byID[in.ID]; ok {
			result.Results = append(result.Results, obj)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (f *FakeHubSpot) handleAssociations(w http.ResponseWriter, r *http.Request) {
	from, to := r.PathValue("from"), r.PathValue("to")
	if !f.guard(w, r, OpAssociations(from, to)) {
		return
	}

	var req domain.AssociationBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input JSON")
		return
	}

	f.mu.Lock()
	index := f.associations[strings.ToLower(from)+":"+strings.ToLower(to)]
	resp := domain.AssociationBatchResponse{Status: "COMPLETE", Results: []domain.AssociationBatchResult{}}
	for _, in := range req.Inputs {
		targets := index[in.ID]
		if len(targets) == 0 {
			continue
		}
		res := domain.AssociationBatchResult{From: &domain.ObjectRef{ID: in.ID}}
		for _, id := range targets {
			res.To = append(res.To, domain.AssociationTarget{ID: id, Type: strings.ToLower(from) + "_to_" + strings.ToLower(to)})
		}
		resp.Results = append(resp.Results, res)
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeHubSpot) handleToken(w http.ResponseWriter, r *http.Request) {
	if status := f.enter(OpToken); status != 0 {
		writeError(w, status, "INTERNAL_ERROR", "injected failure for token")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid form")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != f.refreshToken {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "missing or unknown refresh token",
		})
		return
	}
	if r.PostForm.Get("client_id") == "" || r.PostForm.Get("client_secret") == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
		return
	}

	f.tokenSerial++
	f.accessToken = fmt.Sprintf("access-%d", f.tokenSerial)
	f.issued[f.accessToken] = true
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  f.accessToken,
		"refresh_token": f.refreshToken,
		"expires_in":    f.expiresIn,
		"token_type":    "bearer",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, category, message string) {
	writeJSON(w, status, map[string]string{
		"status":        "error",
		"message":       message,
		"correlationId": uuid.NewString(),
		"category":      category,
	})
}

// NewObject builds a CRM record. Every property value is present; set an
// entry to nil afterwards to model a JSON null.
func NewObject(id string, created, updated time.Time, props map[string]string) *domain.Object {
	obj := &domain.Object{
		ID:        id,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
	}
	if props != nil {
		obj.Properties = make(map[string]*string, len(props))
		for k, v := range props {
			obj.Properties[k] = &v
		}
	}
	return obj
}
