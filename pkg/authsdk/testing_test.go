package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeClock fires timers only from Advance, on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every timer that falls due, including
// timers scheduled by the callbacks themselves.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	for {
		due := c.dueLocked()
		if due == nil {
			break
		}
		due.fired = true
		c.mu.Unlock()
		due.f()
		c.mu.Lock()
	}
	c.mu.Unlock()
}

func (c *fakeClock) dueLocked() *fakeTimer {
	var live []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.Slice(live, func(i, j int) bool {
		if !live[i].at.Equal(live[j].at) {
			return live[i].at.Before(live[j].at)
		}
		return live[i].seq < live[j].seq
	})
	if len(live) > 0 && !live[0].at.After(c.now) {
		return live[0]
	}
	return nil
}

// pending returns the delay until the next live timer.
func (c *fakeClock) pending() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	if next == nil {
		return 0, false
	}
	return next.at.Sub(c.now), true
}

// fakeServer is a scriptable session service. Refresh tokens rotate on
// every successful refresh; presenting an old one revokes the session.
type fakeServer struct {
	*httptest.Server

	mu           sync.Mutex
	gen          int
	current      string
	revoked      bool
	expiresIn    int
	refreshCalls int
	activity     int
	logouts      int
	instances    map[string]bool
	refreshPlan  []int
	presented    []string

	// When hold is set, refresh requests signal arrived and block until
	// hold is closed.
	hold    chan struct{}
	arrived chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{expiresIn: 3600, instances: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "correct horse" {
			ErrInvalidCredentials.WriteError(w)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.seen(r)
		s.revoked = false
		s.writePair(w, req.RememberMe)
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		hold, arrived := s.hold, s.arrived
		s.mu.Unlock()
		if hold != nil {
			arrived <- struct{}{}
			<-hold
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.seen(r)
		s.refreshCalls++
		s.presented = append(s.presented, req.RefreshToken)
		if len(s.refreshPlan) > 0 {
			status := s.refreshPlan[0]
			s.refreshPlan = s.refreshPlan[1:]
			switch status {
			case http.StatusServiceUnavailable:
				ErrStoreUnavailable.WriteError(w)
				return
			case http.StatusUnauthorized:
				ErrSessionRevoked.WriteError(w)
				return
			}
		}
		if s.revoked {
			ErrSessionRevoked.WriteError(w)
			return
		}
		if req.RefreshToken != s.current {
			s.revoked = true
			ErrInvalidRefreshToken.WriteError(w)
			return
		}
		s.writePair(w, false)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.logouts++
		s.revoked = true
		s.mu.Unlock()
		writeJSON(w, StatusResponse{Status: "logged_out"})
	})
	mux.HandleFunc("POST /auth/activity", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.activity++
		revoked := s.revoked
		s.mu.Unlock()
		if revoked {
			ErrSessionRevoked.WriteError(w)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) seen(r *http.Request) {
	if id := r.Header.Get(HeaderClientInstance); id != "" {
		s.instances[id] = true
	}
}

// writePair must be called with mu held.
func (s *fakeServer) writePair(w http.ResponseWriter, remember bool) {
	s.gen++
	s.current = fmt.Sprintf("refresh-%d", s.gen)
	refreshTTL := 7 * 24 * 3600
	if remember {
		refreshTTL = 30 * 24 * 3600
	}
	writeJSON(w, TokenResponse{
		AccessToken:      fmt.Sprintf("access-%d", s.gen),
		RefreshToken:     s.current,
		ExpiresIn:        s.expiresIn,
		RefreshExpiresIn: refreshTTL,
		SessionID:        "sid-1",
		User:             UserInfo{ID: "u-1", Email: "frizzle@school.edu", Role: "TEACHER", Permissions: []string{"courses:create"}},
	})
}

func (s *fakeServer) plan(statuses ...int) {
	s.mu.Lock()
	s.refreshPlan = append(s.refreshPlan, statuses...)
	s.mu.Unlock()
}

// holdRefreshes blocks refresh requests until release is called.
func (s *fakeServer) holdRefreshes() (arrived <-chan struct{}, release func()) {
	hold := make(chan struct{})
	ch := make(chan struct{}, 8)
	s.mu.Lock()
	s.hold, s.arrived = hold, ch
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.hold, s.arrived = nil, nil
			s.mu.Unlock()
			close(hold)
		})
	}
}

func (s *fakeServer) presentedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.presented...)
}

func (s *fakeServer) refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *fakeServer) activityPings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity
}

func (s *fakeServer) setExpiresIn(sec int) {
	s.mu.Lock()
	s.expiresIn = sec
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
