package pkg

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteResponse(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantType   string
		wantBody   string
	}{
		{
			name: "raw bytes",
			write: func(w http.ResponseWriter) {
				WriteResponseBytes(w, ContentType.JSON, []byte(`{"total":0}`), http.StatusAccepted)
			},
			wantStatus: http.StatusAccepted,
			wantType:   ContentType.JSON,
			wantBody:   `{"total":0}`,
		},
		{
			name: "no content type",
			write: func(w http.ResponseWriter) {
				WriteResponseBytes(w, "", []byte("plain"), http.StatusOK)
			},
			wantStatus: http.StatusOK,
			wantBody:   "plain",
		},
		{
			name: "string",
			write: func(w http.ResponseWriter) {
				WriteResponse(w, ContentType.Text, "gone", http.StatusGone)
			},
			wantStatus: http.StatusGone,
			wantType:   ContentType.Text,
			wantBody:   "gone",
		},
		{
			name: "text ok",
			write: func(w http.ResponseWriter) {
				WriteTextResponseOK(w, "I'm OK, thanks ;)")
			},
			wantStatus: http.StatusOK,
			wantType:   ContentType.Text,
			wantBody:   "I'm OK, thanks ;)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantType, rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody, rr.Body.String())
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusNotFound, map[string]string{"message": "blog not found"})

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, ContentType.JSON, rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"blog not found"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	WriteJSON(rr, http.StatusOK, map[string]float64{"nan": math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal server error")
}
