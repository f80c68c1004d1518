package doctor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/repository"
	"github.com/careline/bookingbot/pkg/logger"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// Service resolves doctors by name or department for the conversation
// flow. Directory lookups are cached; the roster changes rarely and the
// dialog hits it on nearly every turn.
type Service struct {
	doctors repository.DoctorRepository
	cache   *gocache.Cache
	logger  *logger.Logger
}

func NewService(doctors repository.DoctorRepository, l *logger.Logger) *Service {
	return &Service{
		doctors: doctors,
		cache:   gocache.New(cacheTTL, cacheCleanup),
		logger:  l.WithComponent("doctor"),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	key := "doctor:" + id.String()
	if cached, found := s.cache.Get(key); found {
		return cached.(*model.Doctor), nil
	}
	doctor, err := s.doctors.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, doctor, gocache.DefaultExpiration)
	return doctor, nil
}

// Search matches active doctors by name. The query is normalized first:
// titles like "Dr." are stripped and matching is case-insensitive. Zero,
// one, or many results are all valid outcomes; the dialog layer decides
// what each means.
func (s *Service) Search(ctx context.Context, name string) ([]*model.Doctor, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return nil, nil
	}

	key := "search:" + normalized
	if cached, found := s.cache.Get(key); found {
		return cached.([]*model.Doctor), nil
	}

	doctors, err := s.doctors.SearchByName(ctx, normalized)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, doctors, gocache.DefaultExpiration)
	return doctors, nil
}

// ListByDepartment returns the active doctors of one department.
func (s *Service) ListByDepartment(ctx context.Context, department string) ([]*model.Doctor, error) {
	department = strings.ToLower(strings.TrimSpace(department))
	key := "dept:" + department
	if cached, found := s.cache.Get(key); found {
		return cached.([]*model.Doctor), nil
	}

	doctors, err := s.doctors.ListByDepartment(ctx, department)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, doctors, gocache.DefaultExpiration)
	return doctors, nil
}

// List returns all active doctors.
func (s *Service) List(ctx context.Context) ([]*model.Doctor, error) {
	if cached, found := s.cache.Get("list:active"); found {
		return cached.([]*model.Doctor), nil
	}
	doctors, err := s.doctors.List(ctx, true)
	if err != nil {
		return nil, err
	}
	s.cache.Set("list:active", doctors, gocache.DefaultExpiration)
	return doctors, nil
}

// ListDepartments returns the distinct department names.
func (s *Service) ListDepartments(ctx context.Context) ([]string, error) {
	if cached, found := s.cache.Get("departments"); found {
		return cached.([]string), nil
	}
	departments, err := s.doctors.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set("departments", departments, gocache.DefaultExpiration)
	return departments, nil
}

// NormalizeName strips honorifics and collapses whitespace so "Dr.
// SMITH" and "doctor smith" resolve identically.
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, prefix := range []string{"dr.", "dr ", "doctor "} {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}
	return strings.Join(strings.Fields(name), " ")
}
