// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/runner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSource []runner.CaseStatus

func (s staticSource) Status() []runner.CaseStatus { return s }

func serve(t *testing.T, src StatusSource, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(NewHandlers(src), "toolforge-test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	w := serve(t, staticSource(nil), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestProgress(t *testing.T) {
	src := staticSource{
		{Case: "case_A1", Target: 2, Accepted: 2, Done: true},
		{Case: "case_C4", Target: 3, Accepted: 1, InFlight: 1},
	}
	w := serve(t, src, "/v1/progress")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProgressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Cases, 2)
	assert.Equal(t, 3, resp.Accepted)
	assert.Equal(t, 5, resp.Target)
	assert.False(t, resp.Done)
}

func TestProgress_Empty(t *testing.T) {
	w := serve(t, staticSource(nil), "/v1/progress")
	assert.JSONEq(t, `{"cases":[],"accepted":0,"target":0,"done":false}`, w.Body.String())
}

func TestCaseProgress(t *testing.T) {
	src := staticSource{{Case: "case_C4", Target: 3, Accepted: 1}}

	w := serve(t, src, "/v1/progress/case_C4")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted":1`)

	w = serve(t, src, "/v1/progress/case_Z9")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	w := serve(t, staticSource(nil), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", "toolforge-test", staticSource(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
