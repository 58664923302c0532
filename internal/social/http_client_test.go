package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mentionsPayload() map[string]interface{} {
	return map[string]interface{}{
		"data": []map[string]interface{}{
			{"id": "103", "text": "@tipbot send 1 TIP to @alice", "author_id": "u1", "created_at": "2026-08-28T10:00:03.000Z"},
			{"id": "101", "text": "@tipbot send 2 TIP to @bob", "author_id": "u2", "created_at": "2026-08-28T10:00:01.000Z"},
			{"id": "102", "text": "@tipbot pay 3 to @carol", "author_id": "u1", "created_at": "2026-08-28T10:00:02.000Z"},
		},
		"includes": map[string]interface{}{
			"users": []map[string]interface{}{
				{"id": "u1", "username": "bob"},
				{"id": "u2", "username": "carol"},
			},
		},
		"meta": map[string]interface{}{"result_count": 3},
	}
}

func TestHTTPClient_FetchMentions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/users/botid/mentions", r.URL.Path)
		assert.Equal(t, "Bearer fetch-token", r.Header.Get("Authorization"))
		assert.Equal(t, "99", r.URL.Query().Get("since_id"))
		assert.Equal(t, "100", r.URL.Query().Get("max_results"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mentionsPayload())
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "botid", "fetch-token")
	mentions, err := client.FetchMentions(context.Background(), "99")
	require.NoError(t, err)
	require.Len(t, mentions, 3)

	// Ascending by numeric ID regardless of API order.
	assert.Equal(t, "101", mentions[0].ID)
	assert.Equal(t, "102", mentions[1].ID)
	assert.Equal(t, "103", mentions[2].ID)

	assert.Equal(t, "carol", mentions[0].AuthorHandle)
	assert.Equal(t, "bob", mentions[1].AuthorHandle)
	assert.NotZero(t, mentions[0].CreatedAt)
	assert.Equal(t, mentions[0].ID, mentions[0].ReplyTargetID)
}

func TestHTTPClient_FetchMentions_DropsUnresolvableAuthor(t *testing.T) {
	payload := mentionsPayload()
	payload["includes"] = map[string]interface{}{
		"users": []map[string]interface{}{{"id": "u1", "username": "bob"}},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "botid", "tok")
	mentions, err := client.FetchMentions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, mentions, 2) // u2's mention dropped
	for _, m := range mentions {
		assert.Equal(t, "bob", m.AuthorHandle)
	}
}

func TestHTTPClient_FetchMentions_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind FetchKind
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: FetchRateLimited},
		{name: "server error", status: http.StatusBadGateway, wantKind: FetchNetworkError},
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: FetchUnknown},
		{name: "bad request", status: http.StatusBadRequest, wantKind: FetchUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"title": "nope", "detail": "structured detail"})
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, "botid", "tok")
			mentions, err := client.FetchMentions(context.Background(), "")
			require.Error(t, err)
			assert.Nil(t, mentions, "errors must never return partial results")

			var ferr *FetchError
			require.True(t, errors.As(err, &ferr), "error should be *FetchError, got %T", err)
			assert.Equal(t, tt.wantKind, ferr.Kind)
			assert.Equal(t, tt.status, ferr.StatusCode)
		})
	}
}

func TestHTTPClient_FetchMentions_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewHTTPClient(server.URL, "botid", "tok")
	_, err := client.FetchMentions(context.Background(), "")
	require.Error(t, err)

	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, FetchNetworkError, ferr.Kind)
	assert.Zero(t, ferr.StatusCode)
}

func TestHTTPClient_PostReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "Bearer reply-token", r.Header.Get("Authorization"))

		var req replyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "101", req.Reply.InReplyToID)
		assert.Equal(t, "done!", req.Text)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"id": "900"}})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "replyid", "reply-token")
	require.NoError(t, client.PostReply(context.Background(), "101", "done!"))
}

func TestHTTPClient_PostReply_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"detail": "duplicate content"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "replyid", "tok")
	err := client.PostReply(context.Background(), "101", "done!")
	require.Error(t, err)

	var rerr *ReplyError
	require.True(t, errors.As(err, &rerr), "error should be *ReplyError, got %T", err)
	assert.Equal(t, http.StatusForbidden, rerr.StatusCode)
}
