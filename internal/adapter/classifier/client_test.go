package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfsearch/internal/scan"
)

func TestClient_Classify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		want     bool
		wantErr  bool
	}{
		{"malicious flag", http.StatusOK, `{"malicious": true}`, true, false},
		{"benign flag", http.StatusOK, `{"malicious": false}`, false, false},
		{"malicious label", http.StatusOK, `{"label": "Malicious"}`, true, false},
		{"benign label", http.StatusOK, `{"label": "benign"}`, false, false},
		{"no verdict", http.StatusOK, `{"score": 0.4}`, false, true},
		{"server error", http.StatusInternalServerError, `boom`, false, true},
		{"bad json", http.StatusOK, `{not json`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.response))
			}))
			defer ts.Close()

			c := NewClient(ts.URL, time.Second)
			got, err := c.Classify(context.Background(), scan.FeatureVector{Header: true})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_SendsOrderedFeatures(t *testing.T) {
	var received classifyRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"malicious": false}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, time.Second)
	_, err := c.Classify(context.Background(), scan.FeatureVector{PDFSize: 2048, Header: true, OpenAction: true})
	require.NoError(t, err)

	assert.Equal(t, scan.FeatureNames, received.Order)
	assert.Equal(t, 2048.0, received.Features["pdfsize"])
	assert.Equal(t, 1.0, received.Features["header"])
	assert.Equal(t, 1.0, received.Features["openaction"])
	assert.Equal(t, 0.0, received.Features["javascript"])
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/classify", 200*time.Millisecond)
	_, err := c.Classify(context.Background(), scan.FeatureVector{})
	assert.Error(t, err)
}
