// Package lib 包含基础设施工具库
//
//   - crypto: 可变条目使用的 Ed25519 密钥与签名
//   - log: 基于 log/slog 的组件日志，级别由 KDHT_LOG_LEVEL 控制
//
//	import (
//	    "github.com/dep2p/go-kdht/pkg/lib/crypto"
//	    "github.com/dep2p/go-kdht/pkg/lib/log"
//	)
package lib
