package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestEndpoint_AcceptsAndRecords(t *testing.T) {
	e := NewEndpoint(t)

	status := post(t, e.APIBase()+"/ratings", `{"identifier":"CNA-5438","rating":5}`)
	assert.Equal(t, http.StatusCreated, status)

	reqs := e.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "CNA-5438", reqs[0].Body["identifier"])
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
}

func TestEndpoint_FailNext(t *testing.T) {
	e := NewEndpoint(t)
	e.FailNext(2, http.StatusServiceUnavailable)

	assert.Equal(t, http.StatusServiceUnavailable, post(t, e.APIBase()+"/ratings", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, post(t, e.APIBase()+"/ratings", `{}`))
	assert.Equal(t, http.StatusCreated, post(t, e.APIBase()+"/ratings", `{}`))
	assert.Equal(t, 3, e.Count())
}

func TestEndpoint_FailAlwaysAndRecover(t *testing.T) {
	e := NewEndpoint(t)
	e.FailAlways(http.StatusBadGateway)

	assert.Equal(t, http.StatusBadGateway, post(t, e.APIBase()+"/ratings", `{}`))
	e.Recover()
	assert.Equal(t, http.StatusCreated, post(t, e.APIBase()+"/ratings", `{}`))
}

func TestEndpoint_Hold(t *testing.T) {
	e := NewEndpoint(t)
	entered, release := e.Hold()

	done := make(chan int)
	go func() {
		resp, err := http.Post(e.APIBase()+"/ratings", "application/json", strings.NewReader(`{}`))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-entered
	assert.Equal(t, 1, e.Count())
	release()
	assert.Equal(t, http.StatusCreated, <-done)
}
