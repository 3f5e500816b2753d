package gwerrors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnknownService_HTTPStatusCode(t *testing.T) {
	err := UnknownService("orders")
	assert.Equal(t, http.StatusNotFound, err.HTTPStatusCode())
	assert.Equal(t, KindUnknownService, err.Kind)
	assert.Contains(t, err.Error(), "orders")
}

func TestTransport_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Transport("orders", cause)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatusCode())
	assert.ErrorIs(t, err, cause)
}

func TestUpstreamStatus_PassesThroughCode(t *testing.T) {
	err := UpstreamStatus("orders", http.StatusUnprocessableEntity, map[string]any{"detail": "bad id"})
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatusCode())
	assert.Equal(t, KindUpstreamStatus, err.Kind)
}

func TestTimeout_HTTPStatusCode(t *testing.T) {
	err := Timeout("orders", context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, err.HTTPStatusCode())
}

func TestUpdateMismatch_CarriesBothValues(t *testing.T) {
	err := UpdateMismatch("1", "2")
	data := err.Data.(map[string]any)
	assert.Equal(t, "1", data["existing"])
	assert.Equal(t, "2", data["fetched"])
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatusCode())
}

func TestNotImplemented(t *testing.T) {
	err := NotImplemented("lookup mode without id or params")
	assert.Equal(t, KindNotImplemented, err.Kind)
}
