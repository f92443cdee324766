package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/models"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
)

type matchVolunteerRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.VolunteerProfile, error)
}

type matchRequestRepository interface {
	PendingUnassignedWithStudent(ctx context.Context) ([]models.PendingCandidate, error)
}

type matchCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// MatchingService ranks pending requests for a volunteer. Scoring is a pure
// function of the volunteer profile and the candidate row; the ranked feed is
// cached per volunteer and invalidated whenever the request pool changes.
type MatchingService struct {
	volunteers matchVolunteerRepository
	requests   matchRequestRepository
	cache      matchCache
	cacheTTL   time.Duration
	metrics    *MetricsService
	logger     *zap.Logger
}

// SetMetrics attaches the Prometheus recorder for cache lookup counters.
func (s *MatchingService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// NewMatchingService constructs the matching service.
func NewMatchingService(volunteers matchVolunteerRepository, requests matchRequestRepository, cache matchCache, cacheTTL time.Duration, logger *zap.Logger) *MatchingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchingService{
		volunteers: volunteers,
		requests:   requests,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// IncomingRequests returns pending requests from students in the volunteer's
// city and state, ranked by match score. An empty feed is a valid result.
func (s *MatchingService) IncomingRequests(ctx context.Context, volunteerUserID string) ([]models.MatchCandidate, error) {
	volunteer, err := s.volunteers.FindByUserID(ctx, volunteerUserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "volunteer profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load volunteer")
	}

	cacheKey := matchFeedKey(volunteer.ID)
	if s.cache != nil {
		var cached []models.MatchCandidate
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			s.metrics.RecordCacheLookup(true)
			return cached, nil
		}
		s.metrics.RecordCacheLookup(false)
	}

	candidates, err := s.requests.PendingUnassignedWithStudent(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending requests")
	}

	ranked := RankCandidates(&volunteer.Volunteer, candidates)

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, ranked, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache match feed", zap.String("volunteer_id", volunteer.ID), zap.Error(err))
		}
	}

	return ranked, nil
}

// InvalidateFeeds drops every cached match feed. Called when a request is
// created, accepted or cancelled so stale candidates never linger.
func (s *MatchingService) InvalidateFeeds(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "matchfeed:*"); err != nil {
		s.logger.Warn("failed to invalidate match feeds", zap.Error(err))
	}
}

func matchFeedKey(volunteerID string) string {
	return fmt.Sprintf("matchfeed:%s", volunteerID)
}

// RankCandidates filters the candidate pool to the volunteer's city/state and
// scores the survivors. The sort is stable and the input arrives most recent
// first, so tied scores favour newer requests.
func RankCandidates(volunteer *models.Volunteer, candidates []models.PendingCandidate) []models.MatchCandidate {
	ranked := make([]models.MatchCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		if !strings.EqualFold(candidate.StudentCity, volunteer.City) || !strings.EqualFold(candidate.StudentState, volunteer.State) {
			continue
		}
		score, reasons := ScoreCandidate(volunteer, candidate)
		ranked = append(ranked, models.MatchCandidate{
			PendingCandidate: candidate,
			MatchScore:       score,
			MatchReasons:     reasons,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MatchScore > ranked[j].MatchScore
	})
	return ranked
}

// ScoreCandidate computes the transparent match score for one candidate that
// already passed the location filter. Pure: no I/O, no randomness.
func ScoreCandidate(volunteer *models.Volunteer, candidate models.PendingCandidate) (int, []string) {
	score := models.MatchBaseScore
	reasons := []string{}

	if len(volunteer.Subjects) == 0 {
		// No declared subjects means open to general requests.
		score += models.MatchOpenFallback
	} else if subjectMatches(volunteer.Subjects, candidate.Subject) || subjectMatches(volunteer.Subjects, candidate.StudentCourse) {
		score += models.MatchSubjectBonus
		reasons = append(reasons, models.ReasonSubjectMatch)
	}

	if len(volunteer.Languages) > 0 && languageMatches(volunteer.Languages, candidate.StudentLanguage) {
		score += models.MatchLanguageBonus
		reasons = append(reasons, models.ReasonLanguageMatch)
	}

	return score, reasons
}

// subjectMatches applies the bidirectional substring heuristic: either string
// containing the other counts, so "Math" pairs with "Mathematics".
func subjectMatches(subjects []string, target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return false
	}
	for _, subject := range subjects {
		subject = strings.ToLower(strings.TrimSpace(subject))
		if subject == "" {
			continue
		}
		if strings.Contains(subject, target) || strings.Contains(target, subject) {
			return true
		}
	}
	return false
}

// languageMatches requires a case-insensitive exact match, not substring.
func languageMatches(languages []string, preferred string) bool {
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return false
	}
	for _, language := range languages {
		if strings.EqualFold(strings.TrimSpace(language), preferred) {
			return true
		}
	}
	return false
}
