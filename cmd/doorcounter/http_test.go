package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPI_Count(t *testing.T) {
	ctrl := &fakeController{count: 7}
	srv := httptest.NewServer(newAPIMux(ctrl, nil, discardLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/count")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body countResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, uint64(7), body.Count)
	assert.WithinDuration(t, time.Now(), body.At, 5*time.Second)
}

func TestAPI_ResetRequiresPost(t *testing.T) {
	ctrl := &fakeController{count: 3}
	srv := httptest.NewServer(newAPIMux(ctrl, nil, discardLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/count/reset")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Empty(t, ctrl.resetOrigins())

	resp, err = http.Post(srv.URL+"/api/count/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body resetResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, resetResponse{Previous: 3, Count: 0}, body)
	assert.Equal(t, []string{"http"}, ctrl.resetOrigins())
}

func TestAPI_Crossings(t *testing.T) {
	ctrl := &fakeController{crossings: []CrossingRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	srv := httptest.NewServer(newAPIMux(ctrl, nil, discardLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/crossings?limit=2")
	require.NoError(t, err)
	var records []CrossingRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	resp.Body.Close()
	assert.Len(t, records, 2)

	resp, err = http.Get(srv.URL + "/api/crossings?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctrl.setStoreErr(ErrNoStore)
	resp, err = http.Get(srv.URL + "/api/crossings")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctrl.setStoreErr(errors.New("database is locked"))
	resp, err = http.Get(srv.URL + "/api/crossings")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPI_Status(t *testing.T) {
	ctrl := &fakeController{count: 1}
	srv := httptest.NewServer(newAPIMux(ctrl, nil, discardLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st DaemonStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, uint64(1), st.Count)
	assert.Equal(t, DeliveryLatest, st.Delivery)
}
