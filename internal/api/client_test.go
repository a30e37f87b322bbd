package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

func TestClient_GetRoadmap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/roadmaps/rm-1", r.URL.Path)
		json.NewEncoder(w).Encode(roadmap.Roadmap{
			ID:    "rm-1",
			Title: "Learn Go",
			Stages: []roadmap.Stage{{
				ID: "s1",
				Modules: []roadmap.Module{{
					ID: "m1",
					Concepts: []roadmap.Concept{
						{ID: "c1", ContentStatus: roadmap.StatusCompleted},
					},
				}},
			}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	rm, err := c.GetRoadmap(context.Background(), "rm-1")
	require.NoError(t, err)
	assert.Equal(t, "rm-1", rm.ID)
	require.Len(t, rm.Stages, 1)
	assert.Equal(t, roadmap.StatusCompleted, rm.Stages[0].Modules[0].Concepts[0].ContentStatus)
}

func TestClient_GetActiveTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/roadmaps/rm-1/active-task", r.URL.Path)
		json.NewEncoder(w).Encode(ActiveTaskResponse{
			HasActiveTask: true,
			TaskID:        "task-7",
			Status:        roadmap.TaskProcessing,
			CurrentStep:   "content_generation",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.GetActiveTask(context.Background(), "rm-1")
	require.NoError(t, err)
	assert.True(t, resp.HasActiveTask)
	assert.Equal(t, "task-7", resp.TaskID)
	assert.Equal(t, roadmap.TaskProcessing, resp.Status)
}

func TestClient_StatusCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/roadmaps/rm-1/status-check", r.URL.Path)
		json.NewEncoder(w).Encode(StatusCheckResponse{
			HasActiveTask: true,
			ActiveTasks: []roadmap.ActiveTask{
				{TaskID: "t1", ConceptID: "c1", ContentType: roadmap.ContentTypeTutorial, Status: roadmap.TaskProcessing},
			},
			StaleConcepts: []roadmap.StaleConcept{
				{ConceptID: "c2", ContentType: roadmap.ContentTypeQuiz, CurrentStatus: roadmap.StatusGenerating},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.StatusCheck(context.Background(), "rm-1")
	require.NoError(t, err)
	require.Len(t, resp.ActiveTasks, 1)
	require.Len(t, resp.StaleConcepts, 1)
	assert.Equal(t, "c2", resp.StaleConcepts[0].ConceptID)
}

func TestClient_ApproveReview(t *testing.T) {
	var got approveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/roadmaps/task-7/approve", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	require.NoError(t, c.ApproveReview(context.Background(), "task-7", false, "too shallow"))
	assert.False(t, got.Approved)
	assert.Equal(t, "too shallow", got.Feedback)
}

func TestClient_RetryFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/roadmaps/rm-1/retry-failed", r.URL.Path)
		var req retryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []roadmap.ContentType{roadmap.ContentTypeTutorial}, req.ContentTypes)
		json.NewEncoder(w).Encode(RetryResponse{TaskID: "retry-1", Status: roadmap.TaskProcessing, ItemsToRetry: 2})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.RetryFailed(context.Background(), "rm-1", nil, []roadmap.ContentType{roadmap.ContentTypeTutorial})
	require.NoError(t, err)
	assert.Equal(t, "retry-1", resp.TaskID)
	assert.Equal(t, 2, resp.ItemsToRetry)
}

func TestClient_ServerErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.GetTaskStatus(context.Background(), "task-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_WSBaseURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000", New("http://localhost:8000", 0).WSBaseURL())
	assert.Equal(t, "wss://api.example.com", New("https://api.example.com/", 0).WSBaseURL())
}
