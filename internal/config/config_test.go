package config_test

import (
	"strings"
	"testing"

	"permitflow/internal/config"
	"permitflow/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	s, ok := cfg.StageFor(3)
	if !ok || !s.CommentRequired || s.RequiredRole != domain.RoleCatchmentManager {
		t.Fatalf("stage 3 misconfigured: %+v", s)
	}
	s, ok = cfg.StageFor(4)
	if !ok || !s.Final || !s.CanReject {
		t.Fatalf("stage 4 misconfigured: %+v", s)
	}
	if len(cfg.Seed.Users) != 6 {
		t.Fatalf("expected one seed account per role, got %d", len(cfg.Seed.Users))
	}
}

func TestFromYAMLRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no stages",
			yaml: "workflow:\n  stages: []\n",
			want: "stages is required",
		},
		{
			name: "unknown role",
			yaml: `workflow:
  stages:
    - stage: 1
      required_role: warlock
`,
			want: "unknown role",
		},
		{
			name: "final before stage 4",
			yaml: `workflow:
  stages:
    - stage: 1
      required_role: permitting_officer
    - stage: 2
      required_role: chairperson
      final: true
    - stage: 3
      required_role: catchment_manager
    - stage: 4
      required_role: catchment_chairperson
`,
			want: "only stage 4 may be final",
		},
		{
			name: "missing stage",
			yaml: `workflow:
  stages:
    - stage: 1
      required_role: permitting_officer
    - stage: 2
      required_role: chairperson
    - stage: 4
      required_role: catchment_chairperson
      final: true
`,
			want: "stage 3 missing",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
