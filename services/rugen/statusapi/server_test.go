// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rugen/services/rugen/observe"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.Empty(t, tr.Status())

	a := observe.NewRecorder(nil)
	a.Inc(observe.TotalTargets)
	tr.Start("alpha", a)

	st := tr.Status()
	require.Len(t, st, 1)
	assert.True(t, st[0].Running)
	assert.Equal(t, 1, st[0].Stats.TotalTargets)

	b := observe.NewRecorder(nil)
	tr.Start("beta", b)
	st = tr.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "alpha", st[0].Crate)
	assert.False(t, st[0].Running)
	assert.NotNil(t, st[0].Finished)
	assert.Equal(t, "beta", st[1].Crate)

	tr.Finish()
	tr.Finish()
	assert.Len(t, tr.Status(), 2)
}

func TestRouter(t *testing.T) {
	tr := NewTracker()
	rec := observe.NewRecorder(nil)
	rec.Inc(observe.TargetsSucceeded)
	tr.Start("demo", rec)
	router := NewRouter(tr, "rugen-test")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Crates []CrateStatus `json:"crates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Crates, 1)
	assert.Equal(t, "demo", body.Crates[0].Crate)
	assert.Equal(t, 1, body.Crates[0].Stats.TargetsSucceeded)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, http.NotFoundHandler(), nil) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
