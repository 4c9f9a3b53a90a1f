package video

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

var outputSeq atomic.Uint64

// OutputPath 生成唯一的输出文件路径：avatar_<YYYYmmdd_HHMMSS>_<seq>.mp4
func OutputPath(dir string, now time.Time) string {
	name := fmt.Sprintf("avatar_%s_%d.mp4", now.Format("20060102_150405"), outputSeq.Add(1))
	return filepath.Join(dir, name)
}

// IsSafeName reports whether name is a plain file name with no path components.
func IsSafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}
