package doctor

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/pkg/logger"
)

type countingRepo struct {
	doctors     []*model.Doctor
	searchCalls int
	getCalls    int
}

func (r *countingRepo) Get(_ context.Context, id uuid.UUID) (*model.Doctor, error) {
	r.getCalls++
	for _, d := range r.doctors {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, context.Canceled
}

func (r *countingRepo) List(_ context.Context, activeOnly bool) ([]*model.Doctor, error) {
	var out []*model.Doctor
	for _, d := range r.doctors {
		if !activeOnly || d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *countingRepo) SearchByName(_ context.Context, name string) ([]*model.Doctor, error) {
	r.searchCalls++
	var out []*model.Doctor
	for _, d := range r.doctors {
		if d.IsActive && strings.Contains(strings.ToLower(d.Name), name) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *countingRepo) ListByDepartment(_ context.Context, department string) ([]*model.Doctor, error) {
	var out []*model.Doctor
	for _, d := range r.doctors {
		if d.IsActive && strings.EqualFold(d.Department, department) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *countingRepo) ListDepartments(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.doctors {
		if !seen[d.Department] {
			seen[d.Department] = true
			out = append(out, d.Department)
		}
	}
	return out, nil
}

func testService(repo *countingRepo) *Service {
	l := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, TimeFormat: time.RFC3339, Output: io.Discard})
	return NewService(repo, l)
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Dr. Smith":     "smith",
		"dr smith":      "smith",
		"Doctor  Smith": "smith",
		"  SMITH  ":     "smith",
		"Jane   Smith":  "jane smith",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), "input: %q", in)
	}
}

func TestSearchNormalizesAndCaches(t *testing.T) {
	repo := &countingRepo{doctors: []*model.Doctor{
		{Base: model.Base{ID: uuid.New()}, Name: "Jane Smith", Department: "cardiology", IsActive: true},
	}}
	svc := testService(repo)
	ctx := context.Background()

	first, err := svc.Search(ctx, "Dr. Smith")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// same query in a different spelling hits the cache
	second, err := svc.Search(ctx, "doctor smith")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, repo.searchCalls)
}

func TestSearchEmptyQuery(t *testing.T) {
	repo := &countingRepo{}
	svc := testService(repo)

	got, err := svc.Search(context.Background(), "  Dr.  ")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, repo.searchCalls)
}

func TestGetCaches(t *testing.T) {
	doc := &model.Doctor{Base: model.Base{ID: uuid.New()}, Name: "Jane Smith", IsActive: true}
	repo := &countingRepo{doctors: []*model.Doctor{doc}}
	svc := testService(repo)
	ctx := context.Background()

	_, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.getCalls)
}

func TestListByDepartmentIsCaseInsensitive(t *testing.T) {
	repo := &countingRepo{doctors: []*model.Doctor{
		{Base: model.Base{ID: uuid.New()}, Name: "Jane Smith", Department: "cardiology", IsActive: true},
		{Base: model.Base{ID: uuid.New()}, Name: "John Doe", Department: "neurology", IsActive: true},
	}}
	svc := testService(repo)

	got, err := svc.ListByDepartment(context.Background(), "  Cardiology ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Jane Smith", got[0].Name)
}
