package evolution_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovelzap/internal/adapters/evolution"
)

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := evolution.NewClient("", "key", "main")
	assert.Error(t, err)
	_, err = evolution.NewClient("http://gw", "", "main")
	assert.Error(t, err)
	_, err = evolution.NewClient("http://gw", "key", "")
	assert.Error(t, err)
}

func TestSendTextSuccess(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"ABC123"},"status":"PENDING"}`))
	}))
	defer srv.Close()

	client, err := evolution.NewClient(srv.URL, "secret", "main")
	require.NoError(t, err)

	res, err := client.SendText(context.Background(), "21 99999-8888", "Olá")
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, "ABC123", res.ProviderMessageID)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, "/message/sendText/main", gotPath)
	assert.Equal(t, "secret", gotAPIKey)
	assert.Equal(t, "5521999998888", gotBody["number"])
	assert.Equal(t, "Olá", gotBody["text"])
}

func TestSendTextGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"down"}`))
	}))
	defer srv.Close()

	client, err := evolution.NewClient(srv.URL, "secret", "main")
	require.NoError(t, err)

	res, err := client.SendText(context.Background(), "5521999998888", "Olá")
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.Equal(t, http.StatusInternalServerError, res.HTTPStatus)
	assert.Equal(t, "down", res.ErrorMessage)
	assert.Contains(t, res.RawResponse, "down")
}

func TestSendTextRejectsEmptyDestination(t *testing.T) {
	client, err := evolution.NewClient("http://gw", "secret", "main")
	require.NoError(t, err)

	_, err = client.SendText(context.Background(), "abc", "Olá")
	assert.Error(t, err)
}

func TestFetchInstances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instance/fetchInstances", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"main","connectionStatus":"open"}]`))
	}))
	defer srv.Close()

	client, err := evolution.NewClient(srv.URL, "secret", "main")
	require.NoError(t, err)

	instances, err := client.FetchInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "open", instances[0].ConnectionStatus)
}
