package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// errTickTickAuth marks credential problems, as opposed to plain
// connectivity failures. The screen renders the two differently.
var errTickTickAuth = errors.New("ticktick: auth")

// TaskItem is a normalized TickTick task.
type TaskItem struct {
	Title       string
	ProjectName string
	Due         time.Time // anchor timestamp in the client's timezone
	AllDay      bool      // no usable time-of-day component
	Completed   bool
}

type tickTickAPISettings struct {
	Timezone             string `yaml:"timezone"`
	BaseURL              string `yaml:"base_url"`
	TokenURL             string `yaml:"token_url"`
	ClientID             string `yaml:"client_id"`
	ClientSecret         string `yaml:"client_secret"`
	RefreshToken         string `yaml:"refresh_token"`
	ProjectsCacheSeconds int    `yaml:"projects_cache_seconds"`
}

// TickTickClient is a thin wrapper around TickTick's REST API: OAuth
// refresh-token handling plus a cached project map.
type TickTickClient struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
	tz           *time.Location
	client       *http.Client
	now          func() time.Time

	accessToken string
	tokenExpiry time.Time

	projects     map[string]string
	projectsTime time.Time
	projectsTTL  time.Duration
}

func newTickTickClient(s tickTickAPISettings) *TickTickClient {
	tz := time.UTC
	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			log.Printf("ticktick: timezone %q invalid, falling back to UTC", s.Timezone)
		} else {
			tz = loc
		}
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = "https://api.ticktick.com/api/v2"
	}
	tokenURL := s.TokenURL
	if tokenURL == "" {
		tokenURL = "https://ticktick.com/oauth/token"
	}
	ttl := s.ProjectsCacheSeconds
	if ttl <= 0 {
		ttl = 6 * 3600
	}
	return &TickTickClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     tokenURL,
		clientID:     s.ClientID,
		clientSecret: s.ClientSecret,
		refreshToken: s.RefreshToken,
		tz:           tz,
		client:       &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
		projectsTTL:  time.Duration(ttl) * time.Second,
	}
}

// ensureToken refreshes the access token when it is missing or within 30
// seconds of expiry.
func (c *TickTickClient) ensureToken(ctx context.Context) error {
	now := c.now().UTC()
	if c.accessToken != "" && c.tokenExpiry.After(now.Add(30*time.Second)) {
		return nil
	}
	if c.refreshToken == "" || c.clientID == "" || c.clientSecret == "" {
		return fmt.Errorf("%w: credentials are missing", errTickTickAuth)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var data struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return err
	}
	if data.AccessToken == "" {
		return fmt.Errorf("%w: no access token in response", errTickTickAuth)
	}

	expiresIn := data.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	grace := expiresIn - 60
	if grace < 60 {
		grace = 60
	}
	c.accessToken = data.AccessToken
	c.tokenExpiry = now.Add(time.Duration(grace) * time.Second)
	return nil
}

func (c *TickTickClient) get(ctx context.Context, path string, out any) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+strings.TrimPrefix(path, "/"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ProjectsMap returns project id to name, cached for the configured TTL.
func (c *TickTickClient) ProjectsMap(ctx context.Context) (map[string]string, error) {
	now := c.now().UTC()
	if len(c.projects) > 0 && !c.projectsTime.IsZero() && now.Sub(c.projectsTime) < c.projectsTTL {
		return c.projects, nil
	}

	var payload []map[string]any
	if err := c.get(ctx, "projects", &payload); err != nil {
		return nil, err
	}
	mapping := map[string]string{}
	for _, entry := range payload {
		pid := getString(entry, "id", "_id")
		if pid == "" {
			continue
		}
		name := getString(entry, "name", "title")
		if name == "" {
			name = "Inbox"
		}
		mapping[pid] = name
	}
	c.projects = mapping
	c.projectsTime = now
	return mapping, nil
}

// OpenTasksForRange returns open tasks whose anchor date falls between start
// and end, inclusive.
func (c *TickTickClient) OpenTasksForRange(ctx context.Context, start, end time.Time) ([]TaskItem, error) {
	var raw []map[string]any
	if err := c.get(ctx, "tasks", &raw); err != nil {
		return nil, err
	}
	projects, err := c.ProjectsMap(ctx)
	if err != nil {
		return nil, err
	}

	startDay, endDay := dayOf(start), dayOf(end)
	var out []TaskItem
	for _, task := range raw {
		item, ok := c.normalizeTask(task, projects)
		if !ok || item.Completed {
			continue
		}
		day := dayOf(item.Due)
		if day.Before(startDay) || day.After(endDay) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *TickTickClient) normalizeTask(task map[string]any, projects map[string]string) (TaskItem, bool) {
	anchor, ok := c.parseDateTime(getString(task, "dueDate", "due", "due_date"))
	if !ok {
		anchor, ok = c.parseDateTime(getString(task, "startDate", "start"))
	}
	if !ok {
		return TaskItem{}, false
	}

	allDay, _ := task["isAllDay"].(bool)
	if !allDay && anchor.Hour() == 0 && anchor.Minute() == 0 && anchor.Second() == 0 {
		allDay = true
	}

	title := getString(task, "title", "name")
	if title == "" {
		title = "(Untitled)"
	}

	return TaskItem{
		Title:       title,
		ProjectName: projects[getString(task, "projectId", "project_id")],
		Due:         anchor,
		AllDay:      allDay,
		Completed:   taskCompleted(task),
	}, true
}

// parseDateTime accepts the timestamp shapes TickTick emits: RFC3339 with Z
// or an offset, the compact +hhmm offset, and naive timestamps treated as
// UTC. Everything is converted to the client's timezone.
func (c *TickTickClient) parseDateTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.In(c.tz), true
		}
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.UTC); err == nil {
		return t.In(c.tz), true
	}
	return time.Time{}, false
}

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func taskCompleted(m map[string]any) bool {
	if b, ok := m["isCompleted"].(bool); ok && b {
		return true
	}
	switch v := m["status"].(type) {
	case float64:
		return v == 2
	case string:
		return v == "completed" || v == "done"
	}
	return false
}

// dayOf truncates a timestamp to midnight in its own location.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
