package cli

import (
	"os"

	"github.com/rileyhilliard/gpuctl/internal/config"
	"github.com/rileyhilliard/gpuctl/internal/errors"
)

// setConfigValue writes key=value into path and validates the result. An
// edit that leaves the config invalid is rolled back.
func setConfigValue(path, key, value string) error {
	original, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot read "+path,
			"Check the file exists and is readable")
	}

	if err := config.SetValue(path, key, value); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot set "+key,
			"Keys are dotted paths such as session.max_attempts")
	}

	cfg, err := config.Load(path)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		if restoreErr := os.WriteFile(path, original, 0o600); restoreErr != nil {
			return errors.WrapWithCode(restoreErr, errors.ErrConfig,
				"Invalid value left in "+path,
				"Edit the file by hand")
		}
		return err
	}
	return nil
}
