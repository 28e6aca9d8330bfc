package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
)

// Catalog lists the faculty guides and projects students choose from.
type Catalog struct {
	Faculty  []FacultySeed `yaml:"faculty"`
	Projects []ProjectSeed `yaml:"projects"`
}

// FacultySeed describes one guide.
type FacultySeed struct {
	ID             string `yaml:"id"`
	Email          string `yaml:"email"`
	Name           string `yaml:"name"`
	Specialization string `yaml:"specialization"`
	MaxTeams       int    `yaml:"max_teams"`
}

// ProjectSeed describes one project.
type ProjectSeed struct {
	ID             string `yaml:"id"`
	Title          string `yaml:"title"`
	Specialization string `yaml:"specialization"`
}

// CatalogStore is the persistence Seed writes to.
type CatalogStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	CreateProject(ctx context.Context, project *domain.Project) error
}

// SeedReport counts what Seed created and skipped.
type SeedReport struct {
	FacultyCreated  int
	ProjectsCreated int
	Skipped         int
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

// Validate reports entries the store would reject or misorder.
func (c Catalog) Validate() error {
	var errs []error
	for i, f := range c.Faculty {
		if strings.TrimSpace(f.ID) == "" || strings.TrimSpace(f.Email) == "" {
			errs = append(errs, fmt.Errorf("faculty[%d]: id and email are required", i))
		}
		if f.MaxTeams < 0 {
			errs = append(errs, fmt.Errorf("faculty[%d]: max_teams must not be negative", i))
		}
	}
	for i, p := range c.Projects {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Title) == "" {
			errs = append(errs, fmt.Errorf("projects[%d]: id and title are required", i))
		}
	}
	return errors.Join(errs...)
}

// Seed writes the catalog. Entries that already exist are skipped, so it can
// run on every deploy. Faculty keep file order as their scan order.
func Seed(ctx context.Context, store CatalogStore, catalog Catalog, log *slog.Logger) (SeedReport, error) {
	if log == nil {
		log = slog.Default()
	}
	var report SeedReport
	base := time.Now().UTC()
	for i, f := range catalog.Faculty {
		user := &domain.User{
			ID:             strings.TrimSpace(f.ID),
			Email:          domain.NormalizeEmail(f.Email),
			Name:           strings.TrimSpace(f.Name),
			Role:           domain.RoleFaculty,
			Specialization: strings.TrimSpace(f.Specialization),
			MaxTeams:       f.MaxTeams,
			CreatedAt:      base.Add(time.Duration(i) * time.Millisecond),
		}
		switch err := store.CreateUser(ctx, user); {
		case err == nil:
			report.FacultyCreated++
		case errors.Is(err, repository.ErrDuplicate):
			report.Skipped++
		default:
			return report, fmt.Errorf("seed faculty %s: %w", user.ID, err)
		}
	}
	for _, p := range catalog.Projects {
		project := &domain.Project{
			ID:             strings.TrimSpace(p.ID),
			Title:          strings.TrimSpace(p.Title),
			Specialization: strings.TrimSpace(p.Specialization),
			CreatedAt:      base,
		}
		switch err := store.CreateProject(ctx, project); {
		case err == nil:
			report.ProjectsCreated++
		case errors.Is(err, repository.ErrDuplicate):
			report.Skipped++
		default:
			return report, fmt.Errorf("seed project %s: %w", project.ID, err)
		}
	}
	log.Info("catalog seeded",
		"faculty", report.FacultyCreated,
		"projects", report.ProjectsCreated,
		"skipped", report.Skipped,
	)
	return report, nil
}
