package permission

import "testing"

func TestDecideOpenAllowsEverything(t *testing.T) {
	profile, err := Preset(PresetOpen)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if got := Decide(FormatAction("bash", "rm -rf /tmp/x"), profile); got != Allow {
		t.Errorf("open preset: got %s, want ALLOW", got)
	}
}

func TestDecideStandardProfile(t *testing.T) {
	profile, err := Preset(PresetStandard)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}

	cases := []struct {
		action string
		want   Decision
	}{
		{FormatAction("view", "a.py"), Allow},
		{FormatAction("create_file", "new.py"), Allow},
		{FormatAction("agent_comm", "notify scout"), Allow},
		{FormatAction("git", "status"), Allow},
		{FormatAction("git", "push origin main"), Ask},
		{FormatAction("bash", "rm tmp.txt"), Ask},
		{FormatAction("self_edit", "permissions:standard"), Ask},
		{FormatAction("unknown_tool", "whatever"), Deny},
	}
	for _, c := range cases {
		if got := Decide(c.action, profile); got != c.want {
			t.Errorf("Decide(%q) = %s, want %s", c.action, got, c.want)
		}
	}
}

func TestDecideLockedProfile(t *testing.T) {
	profile, err := Preset(PresetLocked)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if got := Decide(FormatAction("view", "README.md"), profile); got != Allow {
		t.Errorf("locked preset view: got %s, want ALLOW", got)
	}
	if got := Decide(FormatAction("bash", "ls"), profile); got != Deny {
		t.Errorf("locked preset bash: got %s, want DENY", got)
	}
}

func TestDecideAllowPriorityOverAsk(t *testing.T) {
	profile, err := Preset(PresetStandard)
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	// The enumerated safe git subcommands are allow; git:(push|merge_request).* is ask.
	// A plain status command must resolve to ALLOW, not fall through to ASK.
	if got := Decide(FormatAction("git", "status"), profile); got != Allow {
		t.Errorf("git status: got %s, want ALLOW (allow takes priority)", got)
	}
}

func TestPresetUnknown(t *testing.T) {
	if _, err := Preset("nonexistent"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestFormatAction(t *testing.T) {
	if got := FormatAction("bash", "ls -la"); got != "tool:bash:ls -la" {
		t.Errorf("FormatAction = %q", got)
	}
}
