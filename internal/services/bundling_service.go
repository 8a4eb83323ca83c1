package services

import (
	"log/slog"
	"sort"
	"strings"

	"campusrun/internal/config"
	"campusrun/internal/domain/entities"
	"campusrun/internal/geo"
	"campusrun/internal/mapsvc"
	"campusrun/pkg/utils"

	"github.com/shopspring/decimal"
)

// BundlingService chains nearby open tasks into small runs a performer can
// do in one trip.
//
// The search is greedy, not optimal: every valid task seeds one attempt, the
// other tasks are scanned in their original order, and the first bundles
// found win. Output is therefore stable for a given candidate order.
//
// Go Learning Note — Pure Services:
// BundlingService holds only configuration and never mutates shared state,
// so one instance is safe to call from every request goroutine at once.
type BundlingService struct {
	cfg  config.BundlingConfig
	maps mapsvc.Provider
	log  *slog.Logger
}

func NewBundlingService(cfg config.BundlingConfig, maps mapsvc.Provider, log *slog.Logger) *BundlingService {
	return &BundlingService{cfg: cfg, maps: maps, log: log}
}

// BundleTasks returns at most MaxBundles bundles of 2..MaxBundleSize tasks,
// in seed order. It never returns nil.
//
// A bundle whose task set was already produced by an earlier seed is
// skipped, so a tight cluster of three tasks yields one bundle rather than
// three permutations of it.
func (s *BundlingService) BundleTasks(candidates []entities.TaskSummary, requester *entities.Location) []entities.TaskBundle {
	valid := make([]entities.TaskSummary, 0, len(candidates))
	for _, c := range candidates {
		if c.Location.Valid() {
			valid = append(valid, c)
		}
	}
	bundles := []entities.TaskBundle{}
	if len(valid) < 2 {
		return bundles
	}

	seen := make(map[string]struct{})
	for i := range valid {
		if len(bundles) >= s.cfg.MaxBundles {
			break
		}

		chain := s.chainFrom(valid, i)
		if len(chain) < 2 {
			continue
		}
		key := setKey(chain)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		bundles = append(bundles, s.summarize(chain, requester))
	}

	s.log.Debug("bundled tasks", "action", "bundle_tasks",
		"candidates", len(candidates), "valid", len(valid), "bundles", len(bundles))
	return bundles
}

func (s *BundlingService) chainFrom(valid []entities.TaskSummary, seed int) []entities.TaskSummary {
	chain := []entities.TaskSummary{valid[seed]}
	last := valid[seed].Location
	for j := range valid {
		if len(chain) >= s.cfg.MaxBundleSize {
			break
		}
		if j == seed {
			continue
		}
		if s.maps.DistanceKm(last, valid[j].Location) <= s.cfg.MaxLegDistanceKm {
			chain = append(chain, valid[j])
			last = valid[j].Location
		}
	}
	return chain
}

func (s *BundlingService) summarize(chain []entities.TaskSummary, requester *entities.Location) entities.TaskBundle {
	earnings := decimal.Zero
	minutes := 0
	distance := 0.0
	for i, t := range chain {
		earnings = earnings.Add(utils.Money(t.Price))
		minutes += s.taskMinutes(t)
		if i > 0 {
			distance += s.maps.DistanceKm(chain[i-1].Location, t.Location)
		}
	}

	bundle := entities.TaskBundle{
		Tasks:            chain,
		TotalEarnings:    utils.ToFloat(earnings.Round(2)),
		TotalTimeMinutes: minutes,
		TotalDistanceKm:  distance,
	}
	if start := s.maps.DistanceKm(requester, chain[0].Location); geo.Comparable(start) {
		bundle.StartDistanceKm = &start
	}
	return bundle
}

// taskMinutes prefers the structured estimate and falls back to the leading
// integer of the display text, then to DefaultTaskMinutes.
func (s *BundlingService) taskMinutes(t entities.TaskSummary) int {
	if t.EstimatedMinutes != nil && *t.EstimatedMinutes >= 0 {
		return *t.EstimatedMinutes
	}
	if n, ok := leadingInteger(t.EstimatedTimeText); ok {
		return n
	}
	return s.cfg.DefaultTaskMinutes
}

// leadingInteger extracts the digits at the start of text, ignoring leading
// spaces: "15-20 minutes" -> 15, "about 10" -> not found.
func leadingInteger(text string) (int, bool) {
	text = strings.TrimLeft(text, " \t")
	n, digits := 0, 0
	for _, r := range text {
		if r < '0' || r > '9' {
			break
		}
		if n > 1_000_000 {
			return 0, false
		}
		n = n*10 + int(r-'0')
		digits++
	}
	return n, digits > 0
}

func setKey(chain []entities.TaskSummary) string {
	ids := make([]string, len(chain))
	for i, t := range chain {
		ids[i] = t.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}
