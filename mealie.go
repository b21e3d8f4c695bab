package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// mealieProvider shows tonight's dinner from a Mealie meal-plan server.
// Fetch failures keep the previously cached meal on screen.
type mealieProvider struct {
	BaseProvider
	baseURL  string
	apiToken string
	refresh  time.Duration
	client   *http.Client
	fonts    *FontStore
	now      func() time.Time

	lastFetch time.Time
	mealName  string
}

type mealieSettings struct {
	BaseURL        string `yaml:"base_url"`
	APIToken       string `yaml:"api_token"`
	RefreshSeconds int    `yaml:"refresh_seconds"`
}

type mealieEntry struct {
	EntryType string `json:"entryType"`
	Recipe    *struct {
		Name string `json:"name"`
	} `json:"recipe"`
}

func newMealieProvider(settings yaml.Node, fonts *FontStore) (Provider, error) {
	s := mealieSettings{RefreshSeconds: 3600}
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return &mealieProvider{
		baseURL:  strings.TrimRight(s.BaseURL, "/"),
		apiToken: s.APIToken,
		refresh:  time.Duration(s.RefreshSeconds) * time.Second,
		client:   &http.Client{Timeout: 5 * time.Second},
		fonts:    fonts,
		now:      time.Now,
		mealName: "No dinner planned",
	}, nil
}

func (m *mealieProvider) Name() string { return "mealie" }

func (m *mealieProvider) Tick(ctx context.Context) error {
	now := m.now()
	if !m.lastFetch.IsZero() && now.Sub(m.lastFetch) < m.refresh {
		return nil
	}
	m.lastFetch = now

	if m.baseURL == "" || m.apiToken == "" {
		return nil
	}
	entries, err := m.fetchToday(ctx)
	if err != nil {
		// Keep the cached value on screen.
		return fmt.Errorf("mealie: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	if dinner := extractDinnerName(entries); dinner != "" {
		m.mealName = dinner
	} else {
		m.mealName = "No dinner planned"
	}
	return nil
}

// Refresh drops the fetch gate and fetches immediately.
func (m *mealieProvider) Refresh(ctx context.Context) error {
	m.lastFetch = time.Time{}
	return m.Tick(ctx)
}

func (m *mealieProvider) fetchToday(ctx context.Context) ([]mealieEntry, error) {
	url := m.baseURL + "/api/households/mealplans/today"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mealplans/today returned %s", resp.Status)
	}

	var entries []mealieEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func extractDinnerName(entries []mealieEntry) string {
	for _, entry := range entries {
		if entry.EntryType != "dinner" {
			continue
		}
		if entry.Recipe != nil && entry.Recipe.Name != "" {
			return entry.Recipe.Name
		}
	}
	return ""
}

func (m *mealieProvider) Render(ctx context.Context, width, height int, layoutName string) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	titleFace := m.fonts.Face("large")
	bodyFace := m.fonts.Face("default")

	titleY := height/2 - faceHeight(titleFace) - 20
	mealY := height/2 + 10

	drawText(img, "Today's Dinner", width/2, titleY, titleFace, color.Black, true)
	drawText(img, m.mealName, width/2, mealY, bodyFace, color.Black, true)
	return img, nil
}
