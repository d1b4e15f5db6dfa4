package orcs

// errs.go holds small helpers for aggregating error lists and probing
// the file system before a simulation commits to running.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists; read permission is not probed.
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that the directory
// of every argument filename exists; write permission is not probed.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for the directory of every argument
// filename, optionally checking also for the existence of the files
// themselves for the purposes of reading them.  Access permissions are
// not probed.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		// "-" stands for stdin or stdout, nothing to probe
		if len(name) == 0 || name == "-" {
			continue
		}

		directory := filepath.Dir(name)
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, fmt.Errorf("directory of %s not reachable", name))
			continue
		}

		if !checkExistence {
			continue
		}

		if _, err := os.Stat(name); err != nil {
			errs = append(errs, fmt.Errorf("file %s not readable", name))
		}
	}

	err := ReportErrs(errs)
	return err == nil, err
}
