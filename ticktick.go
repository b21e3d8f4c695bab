package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"sort"
	"time"

	"golang.org/x/image/font"
	"gopkg.in/yaml.v3"
)

// tickTickProvider shows today's and tomorrow's open TickTick tasks in two
// boxed columns.
type tickTickProvider struct {
	BaseProvider
	client *TickTickClient
	fonts  *FontStore
	now    func() time.Time

	refreshEvery   time.Duration
	maxItemsPerDay int
	showProjects   bool
	titleMaxLen    int
	timeFormat     string

	todayTasks       []TaskItem
	tomorrowTasks    []TaskItem
	todayOverflow    int
	tomorrowOverflow int
	lastFetch        time.Time
	errorMessage     string
}

type tickTickSettings struct {
	API              tickTickAPISettings `yaml:"api"`
	RefreshSeconds   int                 `yaml:"refresh_seconds"`
	MaxItemsPerDay   *int                `yaml:"max_items_per_day"`
	ShowProjectNames *bool               `yaml:"show_project_names"`
	MaxTitleLength   int                 `yaml:"max_title_length"`
	TimeFormat       string              `yaml:"time_format"`
}

func newTickTickProvider(settings yaml.Node, fonts *FontStore) (Provider, error) {
	s := tickTickSettings{RefreshSeconds: 900, MaxTitleLength: 60, TimeFormat: "15:04"}
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	maxItems := 6
	if s.MaxItemsPerDay != nil {
		maxItems = *s.MaxItemsPerDay
	}
	showProjects := true
	if s.ShowProjectNames != nil {
		showProjects = *s.ShowProjectNames
	}
	if s.MaxTitleLength <= 0 {
		s.MaxTitleLength = 60
	}
	return &tickTickProvider{
		client:         newTickTickClient(s.API),
		fonts:          fonts,
		now:            time.Now,
		refreshEvery:   time.Duration(s.RefreshSeconds) * time.Second,
		maxItemsPerDay: maxItems,
		showProjects:   showProjects,
		titleMaxLen:    s.MaxTitleLength,
		timeFormat:     s.TimeFormat,
	}, nil
}

func (p *tickTickProvider) Name() string { return "ticktick" }

func (p *tickTickProvider) RefreshInterval() time.Duration { return p.refreshEvery }

func (p *tickTickProvider) Tick(ctx context.Context) error {
	now := p.now().In(p.client.tz)
	if !p.lastFetch.IsZero() && now.Sub(p.lastFetch) < p.refreshEvery {
		return nil
	}
	p.lastFetch = now

	today := dayOf(now)
	tomorrow := today.AddDate(0, 0, 1)
	tasks, err := p.client.OpenTasksForRange(ctx, today, tomorrow)
	if err != nil {
		if errors.Is(err, errTickTickAuth) {
			p.errorMessage = "TickTick auth error"
		} else {
			p.errorMessage = "TickTick unavailable"
		}
		p.todayTasks, p.tomorrowTasks = nil, nil
		p.todayOverflow, p.tomorrowOverflow = 0, 0
		return fmt.Errorf("ticktick: %w", err)
	}

	var groupedToday, groupedTomorrow []TaskItem
	for _, t := range tasks {
		switch {
		case sameDate(t.Due, today):
			groupedToday = append(groupedToday, t)
		case sameDate(t.Due, tomorrow):
			groupedTomorrow = append(groupedTomorrow, t)
		}
	}
	p.todayTasks = p.sortedLimited(groupedToday)
	p.tomorrowTasks = p.sortedLimited(groupedTomorrow)
	p.todayOverflow = len(groupedToday) - len(p.todayTasks)
	p.tomorrowOverflow = len(groupedTomorrow) - len(p.tomorrowTasks)
	p.errorMessage = ""
	return nil
}

// Refresh drops the fetch gate so the data is pulled again immediately.
func (p *tickTickProvider) Refresh(ctx context.Context) error {
	p.lastFetch = time.Time{}
	return p.Tick(ctx)
}

// sortedLimited orders timed tasks first by time of day, all-day tasks last,
// and caps the list at the per-day limit. A limit of zero keeps everything.
func (p *tickTickProvider) sortedLimited(tasks []TaskItem) []TaskItem {
	sorted := make([]TaskItem, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return taskSortKey(sorted[i]) < taskSortKey(sorted[j])
	})
	if p.maxItemsPerDay > 0 && len(sorted) > p.maxItemsPerDay {
		return sorted[:p.maxItemsPerDay]
	}
	return sorted
}

func taskSortKey(t TaskItem) int {
	if t.AllDay {
		return 86400 + 23*3600 + 59*60 + 59
	}
	return t.Due.Hour()*3600 + t.Due.Minute()*60 + t.Due.Second()
}

func (p *tickTickProvider) truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= p.titleMaxLen {
		return title
	}
	cut := p.titleMaxLen - 1
	if cut < 1 {
		cut = 1
	}
	return string(runes[:cut]) + "…"
}

func (p *tickTickProvider) formatTaskLine(t TaskItem) string {
	prefix := "[•]"
	if !t.AllDay {
		prefix = "[" + t.Due.Format(p.timeFormat) + "]"
	}
	title := p.truncateTitle(t.Title)
	if p.showProjects && t.ProjectName != "" {
		title = fmt.Sprintf("%s (%s)", title, t.ProjectName)
	}
	return prefix + " " + title
}

func (p *tickTickProvider) Render(ctx context.Context, width, height int, layoutName string) (image.Image, error) {
	if p.lastFetch.IsZero() {
		if err := p.Tick(ctx); err != nil {
			log.Printf("providers: ticktick initial fetch: %v", err)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	if p.errorMessage != "" {
		face := p.fonts.Face("default")
		drawText(img, p.errorMessage, width/2, (height-faceHeight(face))/2, face, color.Black, true)
		return img, nil
	}

	const padding = 24
	const columnGap = 12
	usable := width - padding*2 - columnGap
	colW := usable / 2

	headerFace := p.fonts.Face("large")
	bodyFace := p.fonts.Face("default")
	smallFace := p.fonts.Face("small")

	todayBox := image.Rect(padding, padding, padding+colW, height-padding)
	tomorrowBox := image.Rect(padding+colW+columnGap, padding, width-padding, height-padding)

	p.drawSection(img, todayBox, "Today", p.todayTasks, p.todayOverflow, headerFace, bodyFace, smallFace)
	p.drawSection(img, tomorrowBox, "Tomorrow", p.tomorrowTasks, p.tomorrowOverflow, headerFace, bodyFace, smallFace)
	return img, nil
}

func (p *tickTickProvider) drawSection(img *image.RGBA, box image.Rectangle, title string, tasks []TaskItem, overflow int, headerFace, bodyFace, smallFace font.Face) {
	strokeRect(img, box, 2, color.Black)
	drawText(img, title, box.Min.X+12, box.Min.Y+8, headerFace, color.Black, false)

	lineY := box.Min.Y + faceHeight(headerFace) + 20
	maxWidth := box.Dx() - 24

	if len(tasks) == 0 {
		placeholder := "No tasks"
		if overflow > 0 {
			placeholder = "Tasks hidden"
		}
		drawText(img, placeholder, box.Min.X+12, lineY, bodyFace, color.Black, false)
		return
	}

	for _, task := range tasks {
		line := p.formatTaskLine(task)
		for _, segment := range wrapText(bodyFace, line, maxWidth) {
			drawText(img, segment, box.Min.X+12, lineY, bodyFace, color.Black, false)
			lineY += faceHeight(bodyFace) + 6
			if lineY >= box.Max.Y-40 {
				break
			}
		}
		if lineY >= box.Max.Y-40 {
			break
		}
	}

	if overflow > 0 && lineY < box.Max.Y-20 {
		drawText(img, fmt.Sprintf("+%d more…", overflow), box.Min.X+12, box.Max.Y-28, smallFace, color.Black, false)
	}
}
