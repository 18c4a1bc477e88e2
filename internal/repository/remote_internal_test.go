package repository

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/erazemk/zaloga/internal/model"
)

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://pantry.local:8080", wsURL("http://pantry.local:8080"))
	assert.Equal(t, "wss://pantry.example", wsURL("https://pantry.example"))
}

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"error":"x","code":"empty_name"}`, model.ErrEmptyName},
		{http.StatusBadRequest, `{"error":"x"}`, model.ErrValidation},
		{http.StatusNotFound, ``, model.ErrNotFound},
		{http.StatusConflict, `{"error":"x"}`, model.ErrNegativeStock},
		{http.StatusUnauthorized, `{"error":"invalid token"}`, model.ErrStoreUnavailable},
		{http.StatusBadGateway, `<html>`, model.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		err := decodeError(response(tt.status, tt.body))
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestDecodeErrorCarriesItem(t *testing.T) {
	err := decodeError(response(http.StatusConflict,
		`{"error":"no","code":"negative_stock","item":{"id":"a","name":"Tea","stock":1}}`))

	var rejected *rejectedError
	if assert.True(t, errors.As(err, &rejected)) {
		assert.Equal(t, 1, rejected.item.Stock)
	}
	assert.ErrorIs(t, err, model.ErrNegativeStock)
}
