package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tribridrag/tribridrag/internal/chunk"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// semanticEntity is the strict response schema for LLM extraction.
// Unknown fields, empty names, or out-of-set kinds reject the whole
// response; the build then keeps structural entities only.
type semanticEntity struct {
	Name        string             `json:"name"`
	Kind        string             `json:"kind"`
	Description string             `json:"description"`
	Related     []semanticRelation `json:"related,omitempty"`
}

type semanticRelation struct {
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

const semanticPromptTemplate = `Extract the important code entities from the following %s source.
Respond with a JSON array only, no prose. Each element:
{"name": string, "kind": "function"|"class"|"module"|"variable"|"concept", "description": string, "related": [{"target": string, "kind": "calls"|"imports"|"inherits"|"contains"|"references"|"related_to"}]}
Omit trivial locals. Source:

%s`

// maxSemanticSourceChars bounds the prompt size per chunk.
const maxSemanticSourceChars = 6000

// extractSemantic asks the chat model for entities in one chunk.
// Any schema violation rejects the entire response.
func extractSemantic(ctx context.Context, chat ChatModel, c *chunk.Chunk) (*Extraction, error) {
	source := c.Content
	if len(source) > maxSemanticSourceChars {
		source = source[:maxSemanticSourceChars]
	}
	raw, err := chat.Generate(ctx, fmt.Sprintf(semanticPromptTemplate, c.Language, source))
	if err != nil {
		return nil, err
	}

	parsed, err := parseSemanticResponse(raw)
	if err != nil {
		return nil, err
	}

	out := &Extraction{}
	for _, se := range parsed {
		kind := EntityKind(se.Kind)
		qualified := c.FilePath + "::" + se.Name
		e := Entity{
			ID:            EntityID(c.CorpusID, qualified, kind),
			CorpusID:      c.CorpusID,
			Name:          se.Name,
			QualifiedName: qualified,
			Kind:          kind,
			FilePath:      c.FilePath,
			Description:   strings.TrimSpace(se.Description),
		}
		out.Entities = append(out.Entities, e)
		for _, rel := range se.Related {
			out.Mentions = append(out.Mentions, Mention{
				SourceID: e.ID,
				Name:     rel.Target,
				Kind:     RelationshipKind(rel.Kind),
			})
		}
	}
	return out, nil
}

// parseSemanticResponse validates the model output against the closed
// schema. A fenced JSON block is accepted; everything else about the
// shape is strict.
func parseSemanticResponse(raw string) ([]semanticEntity, error) {
	trimmed := stripCodeFence(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()
	var parsed []semanticEntity
	if err := dec.Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "semantic extraction returned malformed JSON", err)
	}
	if dec.More() {
		return nil, apperrors.New(apperrors.KindUpstreamFailure, "semantic extraction returned trailing content")
	}

	for i := range parsed {
		se := &parsed[i]
		se.Name = strings.TrimSpace(se.Name)
		if se.Name == "" {
			return nil, apperrors.New(apperrors.KindUpstreamFailure, "semantic extraction returned an unnamed entity")
		}
		if !ValidEntityKind(EntityKind(se.Kind)) {
			return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
				"semantic extraction returned unknown entity kind %q", se.Kind)
		}
		for _, rel := range se.Related {
			if strings.TrimSpace(rel.Target) == "" {
				return nil, apperrors.New(apperrors.KindUpstreamFailure, "semantic extraction returned an empty relation target")
			}
			if !ValidRelationshipKind(RelationshipKind(rel.Kind)) {
				return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
					"semantic extraction returned unknown relation kind %q", rel.Kind)
			}
		}
	}
	return parsed, nil
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
