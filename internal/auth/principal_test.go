package auth

import (
	"context"
	"testing"
)

func TestPrincipalScope(t *testing.T) {
	user := Principal{OwnerID: "u1", Role: "user"}
	if s := user.Scope(); s.Privileged || !s.Allows("u1") || s.Allows("u2") {
		t.Errorf("user scope = %+v", s)
	}
	admin := Principal{OwnerID: "a1", Role: RoleSuperadmin}
	if !admin.Scope().Allows("u2") {
		t.Error("superadmin should see every owner")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context should carry no principal")
	}
	ctx := WithPrincipal(context.Background(), Principal{OwnerID: "u1"})
	if p, ok := FromContext(ctx); !ok || p.OwnerID != "u1" {
		t.Errorf("FromContext = %+v, %v", p, ok)
	}
}
