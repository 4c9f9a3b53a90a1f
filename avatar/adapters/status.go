package adapters

import "sync/atomic"

// ServiceStatus 记录适配器是否已初始化，供 /health 汇总。
type ServiceStatus struct {
	ready atomic.Bool
}

// Initialized 报告后端是否可用
func (s *ServiceStatus) Initialized() bool {
	return s.ready.Load()
}

func (s *ServiceStatus) set(ok bool) {
	s.ready.Store(ok)
}
