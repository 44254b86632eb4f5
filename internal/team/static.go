package team

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

// StaticDirectory is the dev/test Directory: a fixed manager -> subordinates
// map. Production deployments swap in the HR-system client.
type StaticDirectory struct {
	Teams map[string][]Member
}

// StaticDirectoryFromEnv reads TEAM_DIRECTORY_JSON, a JSON object of
// manager id to member list, e.g.
// {"m1":[{"id":"u1","name":"Ali"},{"id":"u2","name":"Sara"}]}.
// An empty or malformed value yields an empty directory.
func StaticDirectoryFromEnv() *StaticDirectory {
	d := &StaticDirectory{Teams: map[string][]Member{}}
	raw := os.Getenv("TEAM_DIRECTORY_JSON")
	if raw == "" {
		return d
	}
	var teams map[string][]Member
	if err := json.Unmarshal([]byte(raw), &teams); err == nil {
		d.Teams = teams
	}
	return d
}

func (d *StaticDirectory) SubordinatesOf(ctx context.Context, managerID string) ([]Member, error) {
	members := d.Teams[managerID]
	out := make([]Member, len(members))
	copy(out, members)
	return out, nil
}

func (d *StaticDirectory) ManagersOf(ctx context.Context, userID string) ([]string, error) {
	var managers []string
	for mgr, members := range d.Teams {
		for _, m := range members {
			if m.ID == userID {
				managers = append(managers, mgr)
				break
			}
		}
	}
	return managers, nil
}

// NoVisits is the dev VisitLog: always zero. The visit service is a separate
// system; its absence must not break the team view.
type NoVisits struct{}

func (NoVisits) VisitsToday(ctx context.Context, userID string, day time.Time) (int, error) {
	return 0, nil
}
