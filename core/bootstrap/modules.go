package bootstrap

import (
	"context"
	"fmt"

	"github.com/goodcleanfun/plqbot/core/levels"
)

// Seeder loads level definitions into the repository.
type Seeder interface {
	Seed(ctx context.Context, repo *levels.Repository) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc func(ctx context.Context, repo *levels.Repository) error

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, repo *levels.Repository) error {
	return f(ctx, repo)
}

// DirSeeder registers every level file found in dir.
func DirSeeder(dir string) Seeder {
	return SeederFunc(func(ctx context.Context, repo *levels.Repository) error {
		defs, err := levels.LoadDir(dir)
		if err != nil {
			return err
		}
		for _, d := range defs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := repo.Register(d); err != nil {
				return fmt.Errorf("level %q: %w", d.ID, err)
			}
		}
		return nil
	})
}

// DefinitionSeeder registers in-memory definitions.
func DefinitionSeeder(defs ...levels.Definition) Seeder {
	return SeederFunc(func(_ context.Context, repo *levels.Repository) error {
		for _, d := range defs {
			if err := repo.Register(d); err != nil {
				return fmt.Errorf("level %q: %w", d.ID, err)
			}
		}
		return nil
	})
}

// Modules groups optional bootstrapping hooks. Nil Seeders loads
// the configured levels directory.
type Modules struct {
	Seeders []Seeder
}
