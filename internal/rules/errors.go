package rules

import "errors"

// ErrMalformed envuelve todo rechazo de una mutación o snapshot inválido.
// Nunca se aplica nada parcialmente cuando se devuelve.
var ErrMalformed = errors.New("rules: malformed mutation")

var (
	errMissingProject = errors.New("missing project")
	errMissingID      = errors.New("missing rule id")
	errMissingVersion = errors.New("missing version")
	errMissingPayload = errors.New("ADD requires a payload")
	errUnknownKind    = errors.New("unknown mutation kind")
)
