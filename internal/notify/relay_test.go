package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelayClientSend(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "queued"})
	}))
	defer srv.Close()

	r := NewRelayClient(srv.URL)
	err := r.Send(context.Background(), Message{To: "a@b.c", Subject: "s", HTML: "<p>x</p>"})
	require.NoError(t, err)
	require.Equal(t, "a@b.c", got.To)
	require.Equal(t, "s", got.Subject)
}

func TestRelayClientRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "smtp unavailable"})
	}))
	defer srv.Close()

	r := NewRelayClient(srv.URL)
	err := r.Send(context.Background(), Message{To: "a@b.c"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "smtp unavailable")
}
