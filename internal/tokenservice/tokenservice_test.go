package tokenservice

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeFetcher struct {
	resp *DirectAccessResponse
	err  error
	n    int
}

func (f *fakeFetcher) DirectAccess(ctx context.Context, workflowDefinition, rootNamespaceID string) (*DirectAccessResponse, error) {
	f.n++
	return f.resp, f.err
}

func ptrI64(v int64) *int64    { return &v }
func ptrStr(v string) *string  { return &v }

func TestGetFetchesAndCaches(t *testing.T) {
	f := &fakeFetcher{resp: &DirectAccessResponse{Token: "tok1", ServiceTokenExpiresAt: ptrI64(time.Now().Add(time.Hour).Unix())}}
	s := New(f, "wf")

	tok, ok := s.Get(context.Background(), "ns1")
	if !ok || tok != "tok1" {
		t.Fatalf("got %q, %v", tok, ok)
	}

	tok2, ok2 := s.Get(context.Background(), "ns1")
	if !ok2 || tok2 != "tok1" || f.n != 1 {
		t.Fatalf("expected cache hit, calls=%d", f.n)
	}
}

func TestGetRefetchesAfterExpiry(t *testing.T) {
	base := time.Now()
	f := &fakeFetcher{resp: &DirectAccessResponse{Token: "tok1", ServiceTokenExpiresAt: ptrI64(base.Add(2 * time.Second).Unix())}}
	s := New(f, "wf")
	s.safetyMargin = 0
	s.now = func() time.Time { return base }

	_, _ = s.Get(context.Background(), "ns1")

	s.now = func() time.Time { return base.Add(5 * time.Second) }
	f.resp = &DirectAccessResponse{Token: "tok2", ServiceTokenExpiresAt: ptrI64(base.Add(time.Hour).Unix())}
	tok, ok := s.Get(context.Background(), "ns1")
	if !ok || tok != "tok2" || f.n != 2 {
		t.Fatalf("got %q, ok=%v, calls=%d", tok, ok, f.n)
	}
}

func TestGetUsesEarliestOfBothExpiries(t *testing.T) {
	base := time.Now()
	soon := base.Add(10 * time.Minute)
	later := base.Add(time.Hour)
	soonStr := soon.Format(time.RFC3339)
	f := &fakeFetcher{resp: &DirectAccessResponse{
		Token:                 "tok",
		ServiceTokenExpiresAt: ptrI64(later.Unix()),
		RailsTokenExpiresAt:   ptrStr(soonStr),
	}}
	s := New(f, "wf")
	s.now = func() time.Time { return base }

	_, _ = s.Get(context.Background(), "ns1")

	entry := s.cache["ns1"]
	wantUpper := soon.Add(-s.safetyMargin)
	if entry.expiresAt.After(wantUpper.Add(time.Second)) {
		t.Fatalf("expected expiry derived from earlier rails timestamp, got %v want near %v", entry.expiresAt, wantUpper)
	}
}

func TestGetDefaultsToFiveMinuteWindowWithoutExpiry(t *testing.T) {
	base := time.Now()
	f := &fakeFetcher{resp: &DirectAccessResponse{Token: "tok"}}
	s := New(f, "wf")
	s.now = func() time.Time { return base }

	_, _ = s.Get(context.Background(), "ns1")
	entry := s.cache["ns1"]
	want := base.Add(DefaultWindow)
	if entry.expiresAt.Sub(want) > time.Second || want.Sub(entry.expiresAt) > time.Second {
		t.Fatalf("got expiry %v, want near %v", entry.expiresAt, want)
	}
}

func TestGetExpiryFloorIsNowPlusOneSecond(t *testing.T) {
	base := time.Now()
	past := base.Add(-time.Hour)
	f := &fakeFetcher{resp: &DirectAccessResponse{Token: "tok", ServiceTokenExpiresAt: ptrI64(past.Unix())}}
	s := New(f, "wf")
	s.now = func() time.Time { return base }

	_, _ = s.Get(context.Background(), "ns1")
	entry := s.cache["ns1"]
	if entry.expiresAt.Before(base.Add(time.Second).Add(-time.Millisecond)) {
		t.Fatalf("expiresAt %v should be floored to now+1s", entry.expiresAt)
	}
}

func TestGetReturnsNoTokenOnFetchFailure(t *testing.T) {
	f := &fakeFetcher{err: errors.New("network error")}
	s := New(f, "wf")

	tok, ok := s.Get(context.Background(), "ns1")
	if ok || tok != "" {
		t.Fatalf("expected no token, got %q, %v", tok, ok)
	}
}
