package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shopglue/chatwidget/pkg/config"
)

func sendReq(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/send", nil)
	r.RemoteAddr = "203.0.113.7:1234"
	if token != "" {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	}
	return r
}

func TestSendLimiterIsPerSession(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Host.SendsPerMin = 2
	s := NewServer(cfg, nil)

	a := sendReq("tok-a")
	assert.True(t, s.limiterFor(a).Allow())
	assert.True(t, s.limiterFor(a).Allow())
	assert.False(t, s.limiterFor(a).Allow())

	// One session exhausting its budget never throttles another.
	assert.True(t, s.limiterFor(sendReq("tok-b")).Allow())
}

func TestLimiterFallsBackToRemoteAddr(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Host.SendsPerMin = 1
	s := NewServer(cfg, nil)

	a := sendReq("")
	assert.True(t, s.limiterFor(a).Allow())
	assert.False(t, s.limiterFor(a).Allow())

	b := sendReq("")
	b.RemoteAddr = "203.0.113.8:9"
	assert.True(t, s.limiterFor(b).Allow())
}
