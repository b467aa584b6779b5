package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - REPLICACIÓN
// =================================================================================

// Project crea un campo para el proyecto dueño de la regla.
func Project(v string) zap.Field {
	return zap.String("project", v)
}

// RuleID crea un campo para la identidad de la regla.
func RuleID(v string) zap.Field {
	return zap.String("rule_id", v)
}

// Kind crea un campo para el tipo de mutación (ADD, DELETE, UPDATE_BATCH).
func Kind(v string) zap.Field {
	return zap.String("kind", v)
}

// Version crea un campo para la versión lógica de una mutación.
func Version(v string) zap.Field {
	return zap.String("version", v)
}

// Outcome crea un campo para el resultado de aplicar una mutación.
func Outcome(v string) zap.Field {
	return zap.String("outcome", v)
}

// NodeID crea un campo para el id del nodo del cluster.
func NodeID(v string) zap.Field {
	return zap.String("node_id", v)
}

// Subject crea un campo para el subject/topic del fabric de mensajería.
func Subject(v string) zap.Field {
	return zap.String("subject", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int64 crea un campo int64 genérico.
func Int64(key string, v int64) zap.Field {
	return zap.Int64(key, v)
}
