package config

import (
	"testing"
	"time"
)

func TestParseMilestones(t *testing.T) {
	ms, err := parseMilestones("10:3, 5:2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ms) != 2 || ms[0].Threshold != 5 || ms[0].Bonus != 2 || ms[1].Threshold != 10 {
		t.Fatalf("milestones = %+v", ms)
	}

	ms, err = parseMilestones("")
	if err != nil || len(ms) != len(DefaultMilestones) {
		t.Fatalf("defaults: %+v / %v", ms, err)
	}

	for _, bad := range []string{"5", "abc:2", "5:xyz", "0:1", "5:-1"} {
		if _, err := parseMilestones(bad); err == nil {
			t.Fatalf("parse %q: want error", bad)
		}
	}
}

func TestParseTopicAdmins(t *testing.T) {
	m := parseTopicAdmins("buyurtma:1|2, texnik:3")
	if len(m["buyurtma"]) != 2 || m["buyurtma"][0] != 1 || m["buyurtma"][1] != 2 {
		t.Fatalf("buyurtma = %v", m["buyurtma"])
	}
	if len(m["texnik"]) != 1 || m["texnik"][0] != 3 {
		t.Fatalf("texnik = %v", m["texnik"])
	}
}

func TestAdminsForTopicFallback(t *testing.T) {
	cfg := &Config{
		AdminIDs:    []int64{100, 101},
		TopicAdmins: map[string][]int64{"texnik": {200}},
	}
	if got := cfg.AdminsForTopic("texnik"); len(got) != 1 || got[0] != 200 {
		t.Fatalf("texnik admins = %v", got)
	}
	if got := cfg.AdminsForTopic("buyurtma"); len(got) != 2 {
		t.Fatalf("fallback admins = %v", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_DATABASE", "support_bot")
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_IDS", "100, 101")
	t.Setenv("TOPIC_ADMINS", "texnik:101")
	t.Setenv("MILESTONES", "5:2,10:3")
	t.Setenv("RELAY_INTERVAL", "30s")
	t.Setenv("WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !cfg.IsAdmin(101) || cfg.IsAdmin(999) {
		t.Fatalf("admin allowlist = %v", cfg.AdminIDs)
	}
	if cfg.RelayInterval != 30*time.Second {
		t.Fatalf("relay interval = %v", cfg.RelayInterval)
	}
	if cfg.Workers != 4 {
		t.Fatalf("workers = %d", cfg.Workers)
	}
	if len(cfg.Milestones) != 2 {
		t.Fatalf("milestones = %+v", cfg.Milestones)
	}
}

func TestValidateRequiresAdmins(t *testing.T) {
	cfg := &Config{}
	cfg.DB.Host = "localhost"
	cfg.DB.Database = "support_bot"
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error without ADMIN_IDS")
	}
}
