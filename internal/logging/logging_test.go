package logging

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"

	chmw "github.com/go-chi/chi/v5/middleware"
)

func TestSortKeysCanonical(t *testing.T) {
	keys := []string{"error", "zeta", "request_id", "provider", "alpha", "module", "outcome"}
	sortKeysCanonical(keys)
	want := []string{"module", "provider", "outcome", "request_id", "alpha", "zeta", "error"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
}

func TestModuleFromPath(t *testing.T) {
	cases := map[string]string{
		"/go/src/github.com/TiredShaman/assessmatefinal/internal/oauth/oidc.go": "internal/oauth",
		"/go/src/github.com/TiredShaman/assessmatefinal/cmd/assessmate/main.go": "cmd/assessmate",
		"/go/pkg/mod/github.com/sirupsen/logrus@v1.9.4/entry.go":                 "",
		"/go/src/github.com/TiredShaman/assessmatefinal/vendor/x/y.go":           "",
		"/go/src/github.com/TiredShaman/assessmatefinal/main.go":                 "",
	}
	for in, want := range cases {
		if got := moduleFromPath(in); got != want {
			t.Errorf("moduleFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContextHookAddsRequestAndUser(t *testing.T) {
	Init(true, false)
	var buf bytes.Buffer
	SetOutput(&buf)

	ctx := context.WithValue(context.Background(), chmw.RequestIDKey, "req-42")
	ctx = context.WithValue(ctx, ContextUserID, "u-1")
	L().WithContext(ctx).Info("hello")

	out := buf.String()
	for _, want := range []string{"request_id=req-42", "user_id=u-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}
