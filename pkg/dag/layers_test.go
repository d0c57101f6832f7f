package dag

import (
	"testing"

	"github.com/atlasagent/atlas-core/pkg/model"
)

func TestComputeLayersOrdersByDependency(t *testing.T) {
	tasks := []model.PlanTask{
		{ID: "t1", Type: model.TaskTypeTool},
		{ID: "t2", Type: model.TaskTypeGeneration, Dependencies: []string{"t1"}},
		{ID: "t3", Type: model.TaskTypeGeneration, Dependencies: []string{"t1"}},
		{ID: "t4", Type: model.TaskTypeGeneration, Dependencies: []string{"t2", "t3"}},
	}
	layers, err := ComputeLayers(tasks)
	if err != nil {
		t.Fatalf("ComputeLayers error: %v", err)
	}
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d: %+v", len(layers), layers)
	}
	if len(layers[0]) != 1 || layers[0][0].ID != "t1" {
		t.Fatalf("expected layer 0 = [t1], got %+v", layers[0])
	}
	if len(layers[1]) != 2 {
		t.Fatalf("expected layer 1 to contain t2+t3 concurrently, got %+v", layers[1])
	}
	if len(layers[2]) != 1 || layers[2][0].ID != "t4" {
		t.Fatalf("expected layer 2 = [t4], got %+v", layers[2])
	}
}

func TestComputeLayersDetectsCycle(t *testing.T) {
	tasks := []model.PlanTask{
		{ID: "t1", Dependencies: []string{"t2"}},
		{ID: "t2", Dependencies: []string{"t1"}},
	}
	if _, err := ComputeLayers(tasks); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestComputeLayersRejectsUnknownDependency(t *testing.T) {
	tasks := []model.PlanTask{{ID: "t1", Dependencies: []string{"missing"}}}
	if _, err := ComputeLayers(tasks); err == nil {
		t.Fatal("expected unknown-dependency error")
	}
}
