package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind define el catálogo de operaciones replicadas.
type Kind string

const (
	KindAdd         Kind = "ADD"
	KindDelete      Kind = "DELETE"
	KindUpdateBatch Kind = "UPDATE_BATCH"
)

// Valid reporta si k es uno de los kinds conocidos.
func (k Kind) Valid() bool {
	switch k {
	case KindAdd, KindDelete, KindUpdateBatch:
		return true
	}
	return false
}

// Mutation es una instrucción versionada sobre una única regla.
// Payload es la definición de la regla; obligatorio para ADD e ignorado en el resto.
type Mutation struct {
	Kind    Kind            `json:"kind"`
	Project string          `json:"project"`
	RuleID  string          `json:"ruleId"`
	Version Version         `json:"version"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate verifica que la mutación esté completa.
// Los errores envuelven ErrMalformed.
func (m Mutation) Validate() error {
	var cause error
	switch {
	case strings.TrimSpace(m.Project) == "":
		cause = errMissingProject
	case strings.TrimSpace(m.RuleID) == "":
		cause = errMissingID
	case m.Version.IsZero():
		cause = errMissingVersion
	case !m.Kind.Valid():
		cause = fmt.Errorf("%w %q", errUnknownKind, string(m.Kind))
	case m.Kind == KindAdd && isEmptyPayload(m.Payload):
		cause = errMissingPayload
	}
	if cause != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, cause)
	}
	return nil
}

func isEmptyPayload(p json.RawMessage) bool {
	s := strings.TrimSpace(string(p))
	return s == "" || s == "null"
}

// Encode serializa la mutación al formato de wire (JSON).
func Encode(m Mutation) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parsea el formato de wire. No valida semántica; eso lo hace el Handler.
func Decode(data []byte) (Mutation, error) {
	var m Mutation
	if len(data) == 0 {
		return m, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// rule construye la regla que produce un ADD aceptado.
func (m Mutation) rule() Rule {
	return Rule{
		Project:    m.Project,
		ID:         m.RuleID,
		Version:    m.Version,
		Definition: append(json.RawMessage(nil), m.Payload...),
	}
}
