package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open-file limit the bleve backend needs for
// its segment files.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the process open-file limit. Only the bleve
// lexical backend depends on it.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: c.cfg.Retrieval.LexicalBackend == "bleve",
	}

	limit, err := c.fdLimit()
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", limit, MinFileDescriptors)
	if limit < MinFileDescriptors {
		result.Status = StatusFail
		if !result.Required {
			result.Status = StatusWarn
		}
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
		return result
	}
	result.Status = StatusPass
	return result
}

func openFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	return uint64(rLimit.Cur), nil
}
