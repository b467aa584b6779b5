// Package rules mantiene el directorio en memoria de reglas de análisis por proyecto
// y lo replica entre nodos aplicando mutaciones versionadas.
//
// # Modelo
//
//   - Rule: identidad explícita (Project, ID), Version lógica, BatchStatus y Definition opaca.
//   - Mutation: ADD, DELETE o UPDATE_BATCH sobre una única regla.
//   - Directory: estado compartido del proceso. Lecturas sin bloqueo sobre vistas inmutables,
//     escrituras serializadas por proyecto.
//   - Handler: único camino de escritura. Toda mutación (local o de un peer) pasa por acá.
//
// # Resolución de conflictos
//
// Last-writer-wins por identidad: una mutación se aplica sólo si su versión domina
// estrictamente la versión guardada en el slot (o en el tombstone, si la regla fue borrada).
// Versiones iguales o menores son "stale": no son error, simplemente no tienen efecto.
//
// # Uso
//
//	dir := rules.NewDirectory(rules.DirectoryOptions{TombstoneRetention: 24 * time.Hour})
//	h := rules.NewHandler(dir, rules.HandlerOptions{Clock: clock})
//	out, err := h.Apply(ctx, m)
package rules
