package appcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"data_root":"/tmp/noesis-data"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Errorf("expected default profile dev, got %s", cfg.Profile)
	}
	if cfg.TriadRounds != 1 {
		t.Errorf("expected default triad_rounds 1, got %d", cfg.TriadRounds)
	}
	if cfg.FeedbackRatingThreshold != 8 {
		t.Errorf("expected default feedback_rating_threshold 8, got %d", cfg.FeedbackRatingThreshold)
	}
	if cfg.DefaultRetry.Attempts != 3 || cfg.DefaultRetry.BaseBackoffMs != 200 {
		t.Errorf("unexpected retry defaults: %+v", cfg.DefaultRetry)
	}
}

func TestLoadMissingDataRootFails(t *testing.T) {
	path := writeConfig(t, `{"profile":"lab"}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing data_root")
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	path := writeConfig(t, `{"data_root":"/tmp/x","profile":"bogus"}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid profile")
	}
}

func TestLoadToleratesUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{"data_root":"/tmp/x","totally_unknown_field":true}`)
	if _, err := Load(path); err != nil {
		t.Fatalf("expected unknown keys to be tolerated, got error: %v", err)
	}
}

func TestVaultKeyResolvedFromEnv(t *testing.T) {
	path := writeConfig(t, `{"data_root":"/tmp/x","vault_key_env":"NOESIS_TEST_VAULT_KEY"}`)
	t.Setenv("NOESIS_TEST_VAULT_KEY", "super-secret-password")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VaultKey() != "super-secret-password" {
		t.Errorf("expected resolved vault key, got %q", cfg.VaultKey())
	}
}

func TestPremiumAllowedByProfile(t *testing.T) {
	cases := []struct {
		profile Profile
		want    bool
	}{
		{ProfileDev, false},
		{ProfileLab, true},
		{ProfileProd, true},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Profile = tc.profile
		if got := cfg.PremiumAllowed(); got != tc.want {
			t.Errorf("profile %s: PremiumAllowed() = %v, want %v", tc.profile, got, tc.want)
		}
	}
}
