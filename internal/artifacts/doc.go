// Package artifacts 记录已交付的渲染视频，并按保留期清理输出目录。
//
// Index 有两种实现：配置了 Redis 地址时使用 RedisIndex（记录带 TTL，
// 多实例共享），否则使用进程内的 MemoryIndex。Janitor 周期性扫描输出目录，
// 删除索引中已过期且修改时间早于保留期的视频文件。
package artifacts
