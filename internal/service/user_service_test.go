package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

func TestUpsertFirstContactOnly(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db)
	ctx := context.Background()

	created, err := svc.Upsert(ctx, telegram.User{ID: 1, FirstName: "Aziz", Username: "aziz"}, nil)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	created, err = svc.Upsert(ctx, telegram.User{ID: 1, FirstName: "Boshqa ism"}, nil)
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}
	u, err := svc.ByID(ctx, 1)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if u.FirstName != "Aziz" {
		t.Fatalf("first contact overwritten: %q", u.FirstName)
	}
}

func TestUpsertIgnoresSelfReferral(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db)
	self := int64(1)

	if _, err := svc.Upsert(context.Background(), telegram.User{ID: 1, FirstName: "Aziz"}, &self); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u, _ := svc.ByID(context.Background(), 1)
	if u.ReferrerID != nil {
		t.Fatalf("referrer = %v, want nil", *u.ReferrerID)
	}
}

func TestUserMutations(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db)
	ctx := context.Background()
	seedUser(t, db, 1, "Aziz")

	if err := svc.SetNote(ctx, 1, "doimiy mijoz"); err != nil {
		t.Fatalf("note: %v", err)
	}
	if err := svc.SetVIP(ctx, 1, true); err != nil {
		t.Fatalf("vip: %v", err)
	}
	if err := svc.SetStatus(ctx, 1, model.UserStatusBlocked); err != nil {
		t.Fatalf("block: %v", err)
	}
	u, _ := svc.ByID(ctx, 1)
	if u.Note != "doimiy mijoz" || !u.VIP || u.Status != model.UserStatusBlocked {
		t.Fatalf("user = %+v", u)
	}

	if err := svc.SetNote(ctx, 999, "x"); !errors.Is(err, errs.ErrUserNotFound) {
		t.Fatalf("missing user: %v, want ErrUserNotFound", err)
	}
}

func TestActiveUserIDsSkipsBlocked(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db)
	ctx := context.Background()
	seedUser(t, db, 1, "Birinchi")
	seedUser(t, db, 2, "Ikkinchi")
	seedUser(t, db, 3, "Uchinchi")
	svc.SetStatus(ctx, 2, model.UserStatusBlocked)

	ids, err := svc.ActiveUserIDs(ctx)
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("ids = %v, want [1 3]", ids)
	}
}

func TestProfileText(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db)
	ctx := context.Background()
	u := seedUser(t, db, 1, "Aziz")
	db.Model(u).Updates(map[string]interface{}{"vip": true, "note": "doimiy mijoz"})

	text, err := svc.ProfileText(ctx, 1)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	for _, want := range []string{"Aziz", "doimiy mijoz"} {
		if !strings.Contains(text, want) {
			t.Fatalf("profile %q missing %q", text, want)
		}
	}
}
