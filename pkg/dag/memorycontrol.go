package dag

import (
	"context"
	"fmt"
	"time"
)

// MemoryController is the privileged graph surface a "memory_control"
// task dispatches against (spec §4.8): forget_entity soft-archives via
// supersede, forget_all detaches the user's subgraph (optionally a hard
// delete).
type MemoryController interface {
	ForgetEntity(ctx context.Context, userID, entity string, now time.Time) error
	ForgetAll(ctx context.Context, userID string, hardDelete bool, now time.Time) error
}

// RunMemoryControl dispatches one memory_control task's params. Expected
// params: {"op": "forget_entity", "entity": "..."} or
// {"op": "forget_all", "hard_delete": bool}.
func RunMemoryControl(ctx context.Context, mc MemoryController, userID string, params map[string]interface{}, now time.Time) (string, error) {
	op, _ := params["op"].(string)
	switch op {
	case "forget_entity":
		entity, _ := params["entity"].(string)
		if entity == "" {
			return "", fmt.Errorf("memory_control forget_entity: missing entity param")
		}
		if err := mc.ForgetEntity(ctx, userID, entity, now); err != nil {
			return "", err
		}
		return fmt.Sprintf("forgot entity %q", entity), nil
	case "forget_all":
		hardDelete, _ := params["hard_delete"].(bool)
		if err := mc.ForgetAll(ctx, userID, hardDelete, now); err != nil {
			return "", err
		}
		return "forgot all memory for user", nil
	default:
		return "", fmt.Errorf("memory_control: unknown op %q", op)
	}
}
