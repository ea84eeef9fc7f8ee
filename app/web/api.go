package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/wirecutter/app/queue"
	"github.com/umputun/wirecutter/app/store"
)

// APIJob represents a job in JSON API response
type APIJob struct {
	ID          string `json:"jobid"`
	User        string `json:"user"`
	A           int64  `json:"a"`
	B           int64  `json:"b"`
	C           int64  `json:"c"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Rank        int64  `json:"jobRank"`
}

// APIJobsResponse is the JSON response for the ordered queue
type APIJobsResponse struct {
	Jobs []APIJob `json:"jobs"`
}

// APIJobResponse is the JSON response for a single job
type APIJobResponse struct {
	Job APIJob `json:"job"`
}

// APIResultResponse is the JSON response for mutating requests
type APIResultResponse struct {
	Status string  `json:"status"`
	Job    *APIJob `json:"job,omitempty"`
}

// APISnapshotResponse is the JSON response for the latest controller status
type APISnapshotResponse struct {
	Time      int64               `json:"time"` // unix seconds
	Timestamp time.Time           `json:"timestamp"`
	Data      []queue.StatusEntry `json:"data"`
}

// APIErrorResponse is the JSON payload for all failures
type APIErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// toAPIJob converts queue.Job to APIJob
func toAPIJob(job queue.Job) APIJob {
	return APIJob{
		ID:          job.ID,
		User:        job.User,
		A:           job.A,
		B:           job.B,
		C:           job.C,
		Title:       job.Title,
		Description: job.Description,
		Rank:        job.Rank,
	}
}

// handleListJobs returns all jobs, head of the queue first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := APIJobsResponse{Jobs: make([]APIJob, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toAPIJob(j))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetJob returns a single job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIJobResponse{Job: toAPIJob(job)})
}

// handleCreateJob adds a job to the queue. With auth enabled a missing user defaults to the caller.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var fields queue.JobFields
	if !s.decodeJSON(w, r, &fields) {
		return
	}
	if cred, ok := credentialFrom(r.Context()); ok && fields.User == "" {
		fields.User = cred.Username
	}

	job, err := s.queue.Create(r.Context(), fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	apiJob := toAPIJob(job)
	s.writeJSON(w, http.StatusCreated, APIResultResponse{Status: "Job created successfully", Job: &apiJob})
}

// handleUpdateJob overwrites job fields
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var upd queue.JobUpdate
	if !s.decodeJSON(w, r, &upd) {
		return
	}
	job, err := s.queue.Update(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	apiJob := toAPIJob(job)
	s.writeJSON(w, http.StatusOK, APIResultResponse{Status: "Job updated successfully", Job: &apiJob})
}

// handleDeleteJob removes a job and its rank
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResultResponse{Status: "Job deleted successfully"})
}

// handleRerank applies a batch of rank updates, all or nothing
func (s *Server) handleRerank(w http.ResponseWriter, r *http.Request) {
	var entries []queue.RankEntry
	if !s.decodeJSON(w, r, &entries) {
		return
	}
	if err := s.queue.Rerank(r.Context(), entries); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResultResponse{Status: "Job ranks updated successfully"})
}

// handlePushStatus replaces the controller status snapshot
func (s *Server) handlePushStatus(w http.ResponseWriter, r *http.Request) {
	var entries []queue.StatusEntry
	if !s.decodeJSON(w, r, &entries) {
		return
	}
	if _, err := s.queue.Push(r.Context(), entries); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResultResponse{Status: "Status updated successfully"})
}

// handleLatestStatus returns the controller status snapshot
func (s *Server) handleLatestStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Latest(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, APISnapshotResponse{Time: snap.Time.Unix(), Timestamp: snap.Time, Data: snap.Entries})
}

// decodeJSON reads request body into v, writes 400 and returns false on failure
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, store.KindInvalid, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeError maps err to a status code by its kind and writes the JSON error payload
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := store.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case store.KindNotFound:
		status = http.StatusNotFound
	case store.KindAlreadyExists:
		status = http.StatusConflict
	case store.KindUnauthorized:
		status = http.StatusUnauthorized
	case store.KindInvalid:
		status = http.StatusBadRequest
	default:
		log.Printf("[ERROR] %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSONError(w, status, kind, err.Error())
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, APIErrorResponse{Error: message, Kind: kind})
}
