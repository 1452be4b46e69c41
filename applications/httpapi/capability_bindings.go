package httpapi

import (
	"context"
	"encoding/json"

	"github.com/evidentia/syncplatform/domain/capability"
	"github.com/evidentia/syncplatform/domain/provenance"
)

// toResultMap round-trips v through JSON into a map[string]any, the shape
// every DynamicHandler must return so the /v2 envelope can serialize it
// uniformly regardless of which concrete domain type produced it.
func toResultMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringField(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func mapField(input map[string]any, key string) map[string]any {
	v, _ := input[key].(map[string]any)
	return v
}

func stringMapField(input map[string]any, key string) map[string]string {
	raw, ok := input[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// ProvenanceAppendHandler binds the provenance.append capability to the
// same hash-and-chain logic handleAppendProvenance exposes on the core
// surface, so chained /v2 callers get the provenance envelope Invoke
// threads between capabilities.
func (d *Dependencies) ProvenanceAppendHandler() DynamicHandler {
	return func(ctx context.Context, cctx capability.Context, input map[string]any) (map[string]any, error) {
		entityType := stringField(input, "entityType")
		entityID := stringField(input, "entityId")
		previous := mapField(input, "previousState")
		next := mapField(input, "newState")

		prevHash, err := provenance.HashState(previous)
		if err != nil {
			return nil, err
		}
		newHash, err := provenance.HashState(next)
		if err != nil {
			return nil, err
		}
		delta, err := provenance.Delta(previous, next)
		if err != nil {
			return nil, err
		}

		record := provenance.Record{
			EntityType:        entityType,
			EntityID:          entityID,
			Action:            stringField(input, "action"),
			ActorID:           stringField(input, "actorId"),
			SessionID:         stringField(input, "sessionId"),
			PreviousStateHash: prevHash,
			NewStateHash:      newHash,
			Delta:             delta,
			Attestations:      stringMapField(input, "attestations"),
			RecordedAt:        d.now(),
		}
		saved, err := d.Provenance.Append(ctx, record)
		if err != nil {
			return nil, err
		}
		return toResultMap(saved)
	}
}

// ProvenanceVerifyHandler binds the provenance.verify capability: walk an
// entity's chain and report the first hash break, if any.
func (d *Dependencies) ProvenanceVerifyHandler() DynamicHandler {
	return func(ctx context.Context, cctx capability.Context, input map[string]any) (map[string]any, error) {
		result, err := d.Provenance.Verify(ctx, stringField(input, "entityType"), stringField(input, "entityId"))
		if err != nil {
			return nil, err
		}
		return toResultMap(result)
	}
}

// ProvenanceCertifyHandler binds the provenance.certify capability: append
// a chain-closing certification record carrying free-form notes.
func (d *Dependencies) ProvenanceCertifyHandler() DynamicHandler {
	return func(ctx context.Context, cctx capability.Context, input map[string]any) (map[string]any, error) {
		record, err := d.Provenance.Certify(ctx, stringField(input, "entityType"), stringField(input, "entityId"), stringField(input, "notes"))
		if err != nil {
			return nil, err
		}
		return toResultMap(record)
	}
}
