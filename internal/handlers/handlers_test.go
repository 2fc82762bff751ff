package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/api/middleware"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	return NewHandler(st, nil, zerolog.Nop()), st
}

// routerAs mounts the authenticated routes with a fixed principal, the
// way RequireSession would after verifying a token.
func routerAs(h *Handler, p *middleware.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p != nil {
				req = req.WithContext(middleware.WithPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/messages", h.SendMessage)
	r.Get("/messages/unread", h.UnreadSummary)
	r.Get("/messages/search", h.SearchMessages)
	r.Get("/messages/{id}", h.GetMessage)
	r.Put("/messages/{id}", h.EditMessage)
	r.Delete("/messages/{id}", h.DeleteMessage)
	r.Post("/messages/{id}/read", h.MarkMessageRead)
	r.Post("/messages/{id}/reactions", h.ToggleReaction)
	r.Get("/conversations", h.ListConversations)
	r.Get("/conversations/{id}", h.GetConversation)
	r.Get("/conversations/{id}/messages", h.ListMessages)
	r.Post("/conversations/{id}/read", h.MarkConversationRead)
	r.Post("/conversations/{id}/archive", h.ArchiveConversation)
	r.Post("/admin/conversations/{id}/recompute", h.RecomputeUnread)
	return r
}

func principalFor(userID, orgID uuid.UUID, name string) *middleware.Principal {
	return &middleware.Principal{UserID: userID, OrgID: orgID, DisplayName: name}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSendMessageEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	r := routerAs(h, principalFor(alice, org, "Alice"))

	rec := doJSON(t, r, "POST", "/messages", map[string]any{
		"recipient_id": bob,
		"content":      "hello over http",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	msg := decodeBody[MessageDTO](t, rec)
	if msg.SenderID != alice || msg.RecipientID != bob {
		t.Fatalf("wrong endpoints in response: %+v", msg)
	}
	if msg.Status != "sent" {
		t.Fatalf("status = %q, want sent", msg.Status)
	}
	if msg.SenderName != "Alice" {
		t.Fatalf("sender_name = %q, want Alice (from the session claim)", msg.SenderName)
	}
}

func TestSendMessageBadRequests(t *testing.T) {
	h, _ := newTestHandler(t)
	r := routerAs(h, principalFor(uuid.New(), uuid.New(), ""))

	req := httptest.NewRequest("POST", "/messages", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, "POST", "/messages", map[string]any{"content": "no recipient"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing recipient: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, "POST", "/messages", map[string]any{
		"recipient_id": uuid.New(),
		"content":      "   ",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty content: status = %d, want 422", rec.Code)
	}
}

func TestSendMessageUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t)
	r := routerAs(h, nil)

	rec := doJSON(t, r, "POST", "/messages", map[string]any{
		"recipient_id": uuid.New(),
		"content":      "hi",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetMessageHiddenFromOutsiders(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	rec := doJSON(t, routerAs(h, principalFor(alice, org, "")), "POST", "/messages", map[string]any{
		"recipient_id": bob,
		"content":      "private",
	})
	msg := decodeBody[MessageDTO](t, rec)

	rec = doJSON(t, routerAs(h, principalFor(uuid.New(), org, "")), "GET", "/messages/"+msg.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("outsider read: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, routerAs(h, principalFor(bob, org, "")), "GET", "/messages/"+msg.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recipient read: status = %d, want 200", rec.Code)
	}
}

func TestDeletedMessageRedacted(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	asAlice := routerAs(h, principalFor(alice, org, "Alice"))

	rec := doJSON(t, asAlice, "POST", "/messages", map[string]any{
		"recipient_id": bob,
		"content":      "now you see me",
		"metadata":     map[string]string{"client": "web"},
	})
	msg := decodeBody[MessageDTO](t, rec)

	rec = doJSON(t, asAlice, "DELETE", "/messages/"+msg.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	rec = doJSON(t, asAlice, "GET", "/messages/"+msg.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get after delete: status = %d", rec.Code)
	}
	got := decodeBody[MessageDTO](t, rec)
	if !got.IsDeleted {
		t.Fatal("is_deleted not set")
	}
	if got.Content != "[message deleted]" {
		t.Fatalf("content not redacted: %q", got.Content)
	}
	if got.Metadata != nil || got.SenderName != "" {
		t.Fatal("metadata not redacted on deleted message")
	}
}

func TestEditMessageForbiddenForRecipient(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	rec := doJSON(t, routerAs(h, principalFor(alice, org, "")), "POST", "/messages", map[string]any{
		"recipient_id": bob,
		"content":      "original",
	})
	msg := decodeBody[MessageDTO](t, rec)

	rec = doJSON(t, routerAs(h, principalFor(bob, org, "")), "PUT", "/messages/"+msg.ID, map[string]any{
		"content": "hijacked",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestMarkReadEndpointIdempotent(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	rec := doJSON(t, routerAs(h, principalFor(alice, org, "")), "POST", "/messages", map[string]any{
		"recipient_id": bob,
		"content":      "read me",
	})
	msg := decodeBody[MessageDTO](t, rec)
	asBob := routerAs(h, principalFor(bob, org, ""))

	rec = doJSON(t, asBob, "POST", "/messages/"+msg.ID+"/read", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	first := decodeBody[map[string]any](t, rec)
	if first["transitioned"] != true {
		t.Fatalf("first mark: %v", first)
	}

	rec = doJSON(t, asBob, "POST", "/messages/"+msg.ID+"/read", nil)
	second := decodeBody[map[string]any](t, rec)
	if rec.Code != http.StatusOK || second["transitioned"] != false {
		t.Fatalf("second mark should be a 200 no-op: %d %v", rec.Code, second)
	}
}

func TestConversationListShowsViewerSide(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	asAlice := routerAs(h, principalFor(alice, org, ""))
	asBob := routerAs(h, principalFor(bob, org, ""))

	doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "one"})
	doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "two"})

	rec := doJSON(t, asBob, "GET", "/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[listConversationsResponse](t, rec)
	if len(resp.Conversations) != 1 || resp.Total != 1 {
		t.Fatalf("got %d conversations", len(resp.Conversations))
	}
	c := resp.Conversations[0]
	if c.UnreadCount != 2 {
		t.Fatalf("bob unread = %d, want 2", c.UnreadCount)
	}
	if c.PeerID != alice {
		t.Fatalf("peer = %s, want alice", c.PeerID)
	}

	rec = doJSON(t, asAlice, "GET", "/conversations", nil)
	resp = decodeBody[listConversationsResponse](t, rec)
	if resp.Conversations[0].UnreadCount != 0 {
		t.Fatal("sender side should have no unread")
	}
	if resp.Conversations[0].PeerID != bob {
		t.Fatal("alice's peer should be bob")
	}
}

func TestArchiveEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	asAlice := routerAs(h, principalFor(alice, org, ""))

	rec := doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "hi"})
	msg := decodeBody[MessageDTO](t, rec)

	rec = doJSON(t, asAlice, "POST", "/conversations/"+msg.ConversationID.String()+"/archive", map[string]any{"archived": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("archive: status = %d", rec.Code)
	}

	rec = doJSON(t, asAlice, "GET", "/conversations", nil)
	resp := decodeBody[listConversationsResponse](t, rec)
	if len(resp.Conversations) != 0 {
		t.Fatal("archived conversation still listed")
	}

	rec = doJSON(t, asAlice, "GET", "/conversations?include_archived=true", nil)
	resp = decodeBody[listConversationsResponse](t, rec)
	if len(resp.Conversations) != 1 || !resp.Conversations[0].Archived {
		t.Fatal("include_archived should surface it with the flag set")
	}
}

func TestListMessagesEnvelope(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	asAlice := routerAs(h, principalFor(alice, org, ""))

	var convID uuid.UUID
	for i := 0; i < 5; i++ {
		rec := doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "msg"})
		convID = decodeBody[MessageDTO](t, rec).ConversationID
	}

	rec := doJSON(t, asAlice, "GET", "/conversations/"+convID.String()+"/messages?page=1&page_size=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[listMessagesResponse](t, rec)
	if resp.Total != 5 || len(resp.Messages) != 2 || !resp.HasMore {
		t.Fatalf("envelope wrong: total=%d len=%d has_more=%v", resp.Total, len(resp.Messages), resp.HasMore)
	}

	rec = doJSON(t, asAlice, "GET", "/conversations/"+convID.String()+"/messages?page=3&page_size=2", nil)
	resp = decodeBody[listMessagesResponse](t, rec)
	if len(resp.Messages) != 1 || resp.HasMore {
		t.Fatalf("last page wrong: len=%d has_more=%v", len(resp.Messages), resp.HasMore)
	}
}

func TestUnreadSummaryEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	asAlice := routerAs(h, principalFor(alice, org, ""))

	doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "one"})
	doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "two"})

	rec := doJSON(t, routerAs(h, principalFor(bob, org, "")), "GET", "/messages/unread", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	summary := decodeBody[store.UnreadSummary](t, rec)
	if summary.TotalUnread != 2 || summary.ConversationsWithUnread != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSearchEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	asAlice := routerAs(h, principalFor(alice, org, ""))

	doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "deployment is at noon"})
	doJSON(t, asAlice, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "lunch after"})

	rec := doJSON(t, asAlice, "GET", "/messages/search?q=deployment", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[searchResponse](t, rec)
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}

	rec = doJSON(t, asAlice, "GET", "/messages/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing q: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, asAlice, "GET", "/messages/search?q=x&from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp: status = %d, want 400", rec.Code)
	}
}

func TestReactionEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	rec := doJSON(t, routerAs(h, principalFor(alice, org, "")), "POST", "/messages", map[string]any{
		"recipient_id": bob,
		"content":      "react",
	})
	msg := decodeBody[MessageDTO](t, rec)
	asBob := routerAs(h, principalFor(bob, org, ""))

	rec = doJSON(t, asBob, "POST", "/messages/"+msg.ID+"/reactions", map[string]any{"value": "👍"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[reactionResponse](t, rec)
	if len(resp.Reactions) != 1 {
		t.Fatalf("reactions = %d, want 1", len(resp.Reactions))
	}

	rec = doJSON(t, asBob, "POST", "/messages/"+msg.ID+"/reactions", map[string]any{"value": "👍"})
	resp = decodeBody[reactionResponse](t, rec)
	if len(resp.Reactions) != 0 {
		t.Fatalf("toggle-off left %d reactions", len(resp.Reactions))
	}

	rec = doJSON(t, asBob, "POST", "/messages/"+msg.ID+"/reactions", map[string]any{"value": ""})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty value: status = %d, want 422", rec.Code)
	}
}

func TestRecomputeEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	org := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	r := routerAs(h, principalFor(alice, org, ""))

	rec := doJSON(t, r, "POST", "/messages", map[string]any{"recipient_id": bob, "content": "hi"})
	msg := decodeBody[MessageDTO](t, rec)

	rec = doJSON(t, r, "POST", "/admin/conversations/"+msg.ConversationID.String()+"/recompute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]any](t, rec)
	if resp["drifted"] != false {
		t.Fatalf("healthy conversation reported drift: %v", resp)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[HealthResponse](t, rec)
	if resp.Status != "healthy" {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Checks["database"].Status != "pass" {
		t.Fatalf("database check = %+v", resp.Checks["database"])
	}
}
