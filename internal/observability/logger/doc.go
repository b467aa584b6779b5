// Package logger provides a singleton Zap logger with context-based scoping.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada mensaje replicado o request HTTP puede llevar su logger "scoped"
//     con campos adicionales (node_id, project, rule_id) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Levels: debug, info, warn, error (configurable via RULEDIR_LOG_LEVEL).
//
// # Usage
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, NodeID: cfg.Node.ID})
//	defer logger.Sync()
//
// Con contexto:
//
//	log := logger.From(ctx)
//	log.Info("mutation applied", logger.Project(p), logger.RuleID(id))
//
// Sin contexto (fallback a singleton):
//
//	logger.L().Info("node started")
package logger
