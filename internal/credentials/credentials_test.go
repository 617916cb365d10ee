package credentials

import (
	"context"
	"testing"
)

func TestStaticReturnsConfiguredToken(t *testing.T) {
	r := Static{Token: "abc"}
	tok, err := r.Authorization(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("tok=%q err=%v", tok, err)
	}
}

func TestStaticRejectsEmptyToken(t *testing.T) {
	r := Static{}
	if _, err := r.Authorization(context.Background()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
