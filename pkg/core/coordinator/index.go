package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/kv"
)

// indexEntry is stored under responders/<requestId>/<responderId>. The index
// answers "has anyone responded to this resource" without scanning every
// responder namespace. It is written right after the response itself, so it
// can briefly lag the namespaces but never lead them.
type indexEntry struct {
	ResponseID  string             `json:"responseId"`
	ResponderID string             `json:"responderId"`
	Kind        model.ResponseKind `json:"kind"`
	Time        time.Time          `json:"time"`
}

func indexKey(resourceID, responderID string) string {
	return resourceID + "/" + responderID
}

func indexPrefix(resourceID string) string {
	return resourceID + "/"
}

func (c *Coordinator) index(ctx context.Context, resp model.Response) error {
	entry := indexEntry{
		ResponseID:  resp.ID,
		ResponderID: resp.ResponderID,
		Kind:        resp.Kind,
		Time:        resp.Time,
	}
	if err := kv.PutJSON(ctx, c.store, kv.TableResponders, indexKey(resp.RequestID, resp.ResponderID), entry); err != nil {
		return fmt.Errorf("failed to index response %s: %w", resp.ID, err)
	}
	return nil
}

// IsAlreadyAddressed reports whether anyone has responded to resourceID.
// It reads the store on every call and caches nothing.
func (c *Coordinator) IsAlreadyAddressed(ctx context.Context, resourceID string) (bool, error) {
	entries, err := c.store.List(ctx, kv.TableResponders, indexPrefix(resourceID))
	if err != nil {
		return false, fmt.Errorf("failed to read responders of %s: %w", resourceID, err)
	}
	return len(entries) > 0, nil
}

// Responders returns the ids of everyone who responded to resourceID
func (c *Coordinator) Responders(ctx context.Context, resourceID string) ([]string, error) {
	entries, err := kv.ListJSON[indexEntry](ctx, c.store, kv.TableResponders, indexPrefix(resourceID))
	if err != nil {
		return nil, fmt.Errorf("failed to read responders of %s: %w", resourceID, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ResponderID)
	}
	return ids, nil
}

// Reindex rebuilds missing index entries by scanning every responder
// namespace. It repairs an index left behind by a crash between the response
// write and the index write. It returns the number of entries added.
func (c *Coordinator) Reindex(ctx context.Context) (int, error) {
	entries, err := c.store.List(ctx, kv.TableResponses, "user:")
	if err != nil {
		return 0, fmt.Errorf("failed to list responder namespaces: %w", err)
	}

	added := 0
	for _, e := range entries {
		userID := strings.TrimPrefix(e.Key, "user:")
		responses, err := c.ResponsesFor(ctx, userID)
		if err != nil {
			return added, err
		}

		for _, resp := range responses {
			_, err := c.store.Get(ctx, kv.TableResponders, indexKey(resp.RequestID, resp.ResponderID))
			if err == nil {
				continue
			}
			if !errors.Is(err, kv.ErrNotFound) {
				return added, fmt.Errorf("failed to read index for %s: %w", resp.ID, err)
			}
			if err := c.index(ctx, resp); err != nil {
				return added, err
			}
			added++
			c.logger.Info("Reindexed response",
				zap.String("resource", resp.RequestID),
				zap.String("responder", resp.ResponderID))
		}
	}

	return added, nil
}
