package patch

import (
	"fmt"
	"strings"
	"time"
)

const branchTimeLayout = "20060102-150405"

// JobBranchPrefix 同一任务的所有分支共享此前缀，用于重跑时识别已有分支/PR
func JobBranchPrefix(prefix string, jobID int64) string {
	return fmt.Sprintf("%s%d-", prefix, jobID)
}

// BranchName docs/job-<id>-<UTC 时间>[-suffix]
func BranchName(prefix string, jobID int64, now time.Time, suffix string) string {
	name := JobBranchPrefix(prefix, jobID) + now.UTC().Format(branchTimeLayout)
	if suffix != "" {
		name += "-" + strings.Trim(suffix, "-")
	}
	return name
}
