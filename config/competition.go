package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store"
	"github.com/pelletier/go-toml/v2"
)

// Competition is the optional TOML file describing the event: its window
// and, for local runs, the challenges, teams and users to seed.
type Competition struct {
	Schedule   ScheduleConfig    `toml:"competition"`
	Challenges []ChallengeConfig `toml:"challenges"`
	Teams      []TeamConfig      `toml:"teams"`
	Users      []UserConfig      `toml:"users"`
}

type ScheduleConfig struct {
	Start       *time.Time `toml:"start"`
	End         *time.Time `toml:"end"`
	RequireTeam *bool      `toml:"require_team"`
}

type ChallengeConfig struct {
	ID            string     `toml:"id"`
	Title         string     `toml:"title"`
	Category      string     `toml:"category"`
	Points        int        `toml:"points"`
	Flag          string     `toml:"flag"`
	FlagRegex     string     `toml:"flag_regex"`
	CaseSensitive *bool      `toml:"case_sensitive"`
	Active        *bool      `toml:"active"`
	Visible       *bool      `toml:"visible"`
	MaxAttempts   *int       `toml:"max_attempts"`
	UnlockAfter   *string    `toml:"unlock_after"`
	StartTime     *time.Time `toml:"start_time"`
	EndTime       *time.Time `toml:"end_time"`
}

type TeamConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

type UserConfig struct {
	ID       string  `toml:"id"`
	Username string  `toml:"username"`
	Team     *string `toml:"team"`
}

// LoadCompetition reads and validates a competition file.
func LoadCompetition(path string) (*Competition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read competition file: %w", err)
	}

	var c Competition
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse competition file: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Competition) validate() error {
	s := c.Schedule
	if s.Start != nil && s.End != nil && !s.End.After(*s.Start) {
		return fmt.Errorf("competition end must be after start")
	}

	teams := make(map[string]bool, len(c.Teams))
	for _, t := range c.Teams {
		if t.ID == "" {
			return fmt.Errorf("team without id")
		}
		teams[t.ID] = true
	}
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("user without id")
		}
		if u.Team != nil && !teams[*u.Team] {
			return fmt.Errorf("user %s references unknown team %s", u.ID, *u.Team)
		}
	}

	ids := make(map[string]bool, len(c.Challenges))
	for _, ch := range c.Challenges {
		if ch.ID == "" {
			return fmt.Errorf("challenge without id")
		}
		if ch.Flag == "" && ch.FlagRegex == "" {
			return fmt.Errorf("challenge %s has no flag", ch.ID)
		}
		if ch.MaxAttempts != nil && *ch.MaxAttempts < 1 {
			return fmt.Errorf("challenge %s max_attempts must be at least 1", ch.ID)
		}
		if ids[ch.ID] {
			return fmt.Errorf("duplicate challenge %s", ch.ID)
		}
		ids[ch.ID] = true
	}
	for _, ch := range c.Challenges {
		if ch.UnlockAfter != nil && !ids[*ch.UnlockAfter] {
			return fmt.Errorf("challenge %s unlocks after unknown challenge %s", ch.ID, *ch.UnlockAfter)
		}
	}
	_, err := c.seedOrder()
	return err
}

// seedOrder returns the challenges with every prerequisite ahead of the
// challenges it unlocks, keeping file order otherwise.
func (c *Competition) seedOrder() ([]ChallengeConfig, error) {
	byID := make(map[string]ChallengeConfig, len(c.Challenges))
	for _, ch := range c.Challenges {
		byID[ch.ID] = ch
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(c.Challenges))
	ordered := make([]ChallengeConfig, 0, len(c.Challenges))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("challenge %s is part of an unlock cycle", id)
		}
		state[id] = visiting
		ch := byID[id]
		if ch.UnlockAfter != nil {
			if _, ok := byID[*ch.UnlockAfter]; ok {
				if err := visit(*ch.UnlockAfter); err != nil {
					return err
				}
			}
		}
		state[id] = done
		ordered = append(ordered, ch)
		return nil
	}

	for _, ch := range c.Challenges {
		if err := visit(ch.ID); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Apply overrides the environment's schedule with the file's.
func (c *Competition) Apply(cfg *AppConfig) {
	if c.Schedule.Start != nil {
		cfg.Competition.Start = c.Schedule.Start
	}
	if c.Schedule.End != nil {
		cfg.Competition.End = c.Schedule.End
	}
	if c.Schedule.RequireTeam != nil {
		cfg.Competition.RequireTeam = *c.Schedule.RequireTeam
	}
}

// Seed writes teams, users and challenges, in that order so references resolve.
// Challenges are written prerequisites first.
func (c *Competition) Seed(ctx context.Context, s store.Seeder) error {
	for _, t := range c.Teams {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		if err := s.SeedTeam(ctx, model.Team{ID: t.ID, Name: name, Active: true}); err != nil {
			return fmt.Errorf("seed team %s: %w", t.ID, err)
		}
	}

	for _, u := range c.Users {
		username := u.Username
		if username == "" {
			username = u.ID
		}
		p := model.Participant{ID: u.ID, Username: username, TeamID: u.Team, Active: true}
		if err := s.SeedParticipant(ctx, p); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}

	challenges, err := c.seedOrder()
	if err != nil {
		return err
	}
	for _, ch := range challenges {
		if err := s.SeedChallenge(ctx, ch.model()); err != nil {
			return fmt.Errorf("seed challenge %s: %w", ch.ID, err)
		}
	}
	return nil
}

func (ch ChallengeConfig) model() model.Challenge {
	return model.Challenge{
		ID:            ch.ID,
		Title:         ch.Title,
		Category:      ch.Category,
		Points:        ch.Points,
		Flag:          ch.Flag,
		FlagRegex:     ch.FlagRegex,
		CaseSensitive: boolOr(ch.CaseSensitive, true),
		Active:        boolOr(ch.Active, true),
		Visible:       boolOr(ch.Visible, true),
		MaxAttempts:   ch.MaxAttempts,
		UnlockAfter:   ch.UnlockAfter,
		StartTime:     ch.StartTime,
		EndTime:       ch.EndTime,
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
