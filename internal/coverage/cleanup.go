package coverage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"llm-compiler-fuzz/internal/target"
)

// GcovDir is where gcc/g++ harnesses keep their instrumented build.
func GcovDir(harnessRoot string, t target.Target) string {
	return filepath.Join(harnessRoot, t.ID, "gcc-coverage-build", "gcc")
}

// CleanGcov deletes *.gcda and coverage.info files left by a previous
// campaign so coverage starts from zero. It is best effort: every problem
// is logged and swallowed. It returns the number of files removed.
func CleanGcov(t target.Target, harnessRoot string) (removed int) {
	logger := log.With().Str("target", t.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("coverage cleanup panicked")
		}
	}()

	if !t.UsesGcov() {
		logger.Info().Msg("target does not need coverage data cleanup")
		return 0
	}

	dir := GcovDir(harnessRoot, t)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn().Str("dir", dir).Msg("coverage build directory does not exist")
		return 0
	}

	var errs []error
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".gcda") || name == "coverage.info" {
			if err := os.Remove(path); err != nil {
				errs = append(errs, err)
				return nil
			}
			removed++
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	if err := errors.Join(errs...); err != nil {
		logger.Warn().Err(fmt.Errorf("cleaning %s: %w", dir, err)).Int("removed", removed).Msg("coverage cleanup incomplete")
		return removed
	}
	logger.Info().Str("dir", dir).Int("removed", removed).Msg("cleaned compiler coverage data")
	return removed
}
